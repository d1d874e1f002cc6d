// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.astrophena.name/tgdrive/internal/cli"
	"go.astrophena.name/tgdrive/internal/credstore"
)

const credentialsTemplateName = "credentials_template.json"

var errNoCredentials = errors.New("client secret file doesn't exist")

// credentials checks the OAuth client secret file. If there is none, it
// writes a template next to where the file is expected.
func (b *bot) credentials(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	raw, err := os.ReadFile(b.credentialsFile)
	if errors.Is(err, fs.ErrNotExist) {
		tmpl := filepath.Join(filepath.Dir(b.credentialsFile), credentialsTemplateName)
		if err := os.WriteFile(tmpl, credstore.ClientSecretTemplate(), 0o600); err != nil {
			return err
		}
		fmt.Fprintf(env.Stdout, `%s doesn't exist. A template was written to %s.

To get a client secret:
  1. Open https://console.cloud.google.com/ and create a project.
  2. Enable the Google Drive API.
  3. Create an OAuth client ID of type "Desktop app".
  4. Download the JSON file and save it as %s,
     or fill in client_id and client_secret in the template and rename it.
`, b.credentialsFile, tmpl, b.credentialsFile)
		return fmt.Errorf("%s: %w", b.credentialsFile, errNoCredentials)
	}
	if err != nil {
		return err
	}

	config, err := credstore.ParseConfig(raw, b.redirectURL)
	if err != nil {
		return fmt.Errorf("%s: %w", b.credentialsFile, err)
	}
	fmt.Fprintf(env.Stdout, "%s is valid.\nClient ID: %s\nRedirect URL: %s\n", b.credentialsFile, config.ClientID, config.RedirectURL)
	return nil
}

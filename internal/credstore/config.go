// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// ErrInvalidClientSecret is returned for client secret files that don't look
// like ones downloaded from Google Cloud Console.
var ErrInvalidClientSecret = errors.New("invalid client secret file")

// DefaultRedirectURL is the out-of-band redirect: Google shows the code and
// the user pastes it into the chat.
const DefaultRedirectURL = "urn:ietf:wg:oauth:2.0:oob"

var requiredFields = []string{"client_id", "client_secret", "auth_uri", "token_uri"}

// ValidateClientSecret checks that b is an OAuth client secret with all
// required fields under the "installed" or "web" key.
func ValidateClientSecret(b []byte) error {
	var cs map[string]json.RawMessage
	if err := json.Unmarshal(b, &cs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidClientSecret, err)
	}

	kind := "installed"
	raw, ok := cs[kind]
	if !ok {
		kind = "web"
		raw, ok = cs[kind]
	}
	if !ok {
		return fmt.Errorf("%w: neither \"installed\" nor \"web\" key is present", ErrInvalidClientSecret)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidClientSecret, kind, err)
	}
	var missing []string
	for _, f := range requiredFields {
		if _, ok := fields[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %q is missing %s", ErrInvalidClientSecret, kind, strings.Join(missing, ", "))
	}
	return nil
}

// ParseConfig validates the client secret b and returns an OAuth config for
// the Drive file scope. Empty redirectURL keeps the one from b, if any, or
// falls back to [DefaultRedirectURL].
func ParseConfig(b []byte, redirectURL string) (*oauth2.Config, error) {
	if err := ValidateClientSecret(b); err != nil {
		return nil, err
	}
	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientSecret, err)
	}
	switch {
	case redirectURL != "":
		config.RedirectURL = redirectURL
	case config.RedirectURL == "":
		config.RedirectURL = DefaultRedirectURL
	}
	return config, nil
}

// LoadConfig reads the client secret file at path and parses it with
// [ParseConfig].
func LoadConfig(path, redirectURL string) (*oauth2.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config, err := ParseConfig(b, redirectURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// ClientSecretTemplate returns a client secret file with placeholder values.
func ClientSecretTemplate() []byte {
	tmpl := map[string]any{
		"installed": map[string]any{
			"client_id":                   "your_client_id.apps.googleusercontent.com",
			"project_id":                  "your_project_id",
			"auth_uri":                    "https://accounts.google.com/o/oauth2/auth",
			"token_uri":                   "https://oauth2.googleapis.com/token",
			"auth_provider_x509_cert_url": "https://www.googleapis.com/oauth2/v1/certs",
			"client_secret":               "your_client_secret",
			"redirect_uris":               []string{DefaultRedirectURL, "http://localhost"},
		},
	}
	b, _ := json.MarshalIndent(tmpl, "", "  ")
	return append(b, '\n')
}

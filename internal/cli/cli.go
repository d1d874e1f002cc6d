// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package cli provides utilities for building command-line applications.
package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.astrophena.name/tgdrive/internal/logger"
	"go.astrophena.name/tgdrive/internal/syncx"
	"go.astrophena.name/tgdrive/internal/version"
)

// Main runs app with the operating system environment and exits.
//
// The first SIGINT or SIGTERM cancels the context passed to app, so it can
// shut down cleanly. A second one kills the process.
//
// Errors are printed to stderr prefixed with the command name. The exit
// status is 2 for invalid arguments and 1 for other errors.
func Main(app App) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	err := Run(WithEnv(ctx, OSEnv()), app)
	stop()
	if err == nil {
		return
	}
	if isPrintableError(err) {
		fmt.Fprintf(os.Stderr, "%s: %v\n", version.CmdName(), err)
		if errors.Is(err, ErrInvalidArgs) {
			fmt.Fprintf(os.Stderr, "Run '%s -help' for usage.\n", version.CmdName())
		}
	}
	os.Exit(ExitCode(err))
}

// ExitCode returns the process exit status for an error returned by [Run].
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrExitVersion):
		return 0
	case errors.Is(err, flag.ErrHelp), errors.Is(err, ErrInvalidArgs):
		return 2
	}
	var ue *unprintableError
	if errors.As(err, &ue) {
		// Flag parsing errors.
		return 2
	}
	return 1
}

type unprintableError struct{ err error }

func (e *unprintableError) Error() string { return e.err.Error() }
func (e *unprintableError) Unwrap() error { return e.err }

func isPrintableError(err error) bool {
	if errors.Is(err, flag.ErrHelp) {
		return false
	}
	var ue *unprintableError
	return !errors.As(err, &ue)
}

// ErrExitVersion is returned by [Run] after printing the version.
var ErrExitVersion = &unprintableError{errors.New("version flag exit")}

// ErrInvalidArgs reports bad command-line arguments or configuration. Wrap
// it with a message saying what is wrong:
//
//	return fmt.Errorf("%w: TELEGRAM_BOT_TOKEN is not set", cli.ErrInvalidArgs)
var ErrInvalidArgs = errors.New("invalid arguments")

// App represents a command-line application.
type App interface {
	// Run runs the application. The environment is available with GetEnv.
	Run(context.Context) error
}

// HasFlags represents a command-line application that has flags.
type HasFlags interface {
	App

	// Flags adds flags to the flag set.
	Flags(*flag.FlagSet)
}

// AppFunc is a function type that implements the [App] interface.
// It has no defined flags.
type AppFunc func(context.Context) error

// Run calls f(ctx).
func (f AppFunc) Run(ctx context.Context) error { return f(ctx) }

// Env represents the application environment.
type Env struct {
	Args   []string
	Getenv func(string) string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	logf syncx.Lazy[logger.Logf]
}

// Logf writes the formatted message to standard error of this environment.
func (e *Env) Logf(format string, args ...any) {
	e.logf.Get(func() logger.Logf {
		return log.New(e.Stderr, "", 0).Printf
	})(format, args...)
}

// OSEnv returns the current operating system environment.
func OSEnv() *Env {
	return &Env{
		Args:   os.Args[1:],
		Getenv: os.Getenv,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

type envKey struct{}

// WithEnv returns a copy of ctx that carries env.
func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// GetEnv returns the environment carried by ctx, or the operating system
// environment if there is none.
func GetEnv(ctx context.Context) *Env {
	if env, ok := ctx.Value(envKey{}).(*Env); ok {
		return env
	}
	return OSEnv()
}

// Run parses flags from the environment carried by ctx and runs app with the
// remaining arguments.
func Run(ctx context.Context, app App) error {
	env := GetEnv(ctx)
	name := version.CmdName()

	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	if fa, ok := app.(HasFlags); ok {
		fa.Flags(flags)
	}

	var showVersion bool
	if flags.Lookup("version") == nil {
		flags.BoolVar(&showVersion, "version", false, "Print version and exit.")
	}

	flags.Usage = usage(flags, env.Stderr)
	flags.SetOutput(env.Stderr)
	if err := flags.Parse(env.Args); err != nil {
		// The flag package has printed it already.
		return &unprintableError{err}
	}

	if showVersion {
		fmt.Fprint(env.Stderr, version.Version())
		return ErrExitVersion
	}
	env.Args = flags.Args()

	return app.Run(WithEnv(ctx, env))
}

func usage(flags *flag.FlagSet, stderr io.Writer) func() {
	return func() {
		if docSrc != nil {
			fmt.Fprintf(stderr, "%s\n", doc.Get(parseDocComment))
		} else {
			fmt.Fprintf(stderr, "Usage: %s [flags]\n\n", flags.Name())
		}
		fmt.Fprint(stderr, "Flags:\n\n")
		flags.PrintDefaults()
	}
}

var (
	docSrc []byte
	doc    syncx.Lazy[string]
)

// SetDocComment sets the source of the command's doc comment, printed as
// part of -help. The comment must be a single /* ... */ block:
//
//	/*
//	Tgdrive saves files sent to a Telegram bot to Google Drive.
//	*/
//	package main
//
//	import (
//		_ "embed"
//
//		"go.astrophena.name/tgdrive/internal/cli"
//	)
//
//	//go:embed doc.go
//	var doc []byte
//
//	func init() { cli.SetDocComment(doc) }
func SetDocComment(src []byte) { docSrc = src }

func parseDocComment() string {
	s := bufio.NewScanner(bytes.NewReader(docSrc))
	var (
		doc       string
		inComment bool
	)
	for s.Scan() {
		line := s.Text()
		if line == "/*" {
			inComment = true
			continue
		}
		if line == "*/" {
			break
		}
		if inComment {
			doc += line + "\n"
		}
	}
	return doc
}

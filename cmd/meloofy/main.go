// Command meloofy drives the audio library from the terminal: account
// management, recording, uploads, listing, playback and mixes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/meloofy/meloofy/internal/app"
	"github.com/meloofy/meloofy/internal/auth"
	"github.com/meloofy/meloofy/internal/capture"
	"github.com/meloofy/meloofy/internal/config"
	sb "github.com/meloofy/meloofy/supabase"
)

const usage = `Usage: meloofy [-config FILE] COMMAND [options]

Commands:
  signup          create an account (-email, -password)
  login           sign in (-email, -password)
  logout          sign out and clear the saved session
  whoami          show the signed-in user
  record          record from stdin PCM until interrupted, then upload
  upload          upload a local audio file (-file)
  list            list your sounds, newest first
  play            stream one sound (-id)
  delete          remove a sound and its file (-id)
  mix             save a mix (-name, -sounds id,id,id)
  mixes           list your mixes
  reset-password  send a password-reset email (-email)
  sweep           remove orphaned storage objects now
  serve           run the janitor and diagnostics listener until interrupted
`

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}

	a, err := app.New(cfg, app.Options{Source: os.Stdin})
	if err != nil {
		fatal(err)
	}
	defer a.Close()

	restoreSession(a)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, a, args[0], args[1:]); err != nil {
		fatal(err)
	}
}

func run(ctx context.Context, a *app.Application, cmd string, args []string) error {
	switch cmd {
	case "signup":
		return cmdSignup(ctx, a, args)
	case "login":
		return cmdLogin(ctx, a, args)
	case "logout":
		return cmdLogout(ctx, a)
	case "whoami":
		return cmdWhoami(a)
	case "record":
		return cmdRecord(ctx, a)
	case "upload":
		return cmdUpload(ctx, a, args)
	case "list":
		return cmdList(ctx, a)
	case "play":
		return cmdPlay(ctx, a, args)
	case "delete":
		return cmdDelete(ctx, a, args)
	case "mix":
		return cmdMix(ctx, a, args)
	case "mixes":
		return cmdMixes(ctx, a)
	case "reset-password":
		return cmdResetPassword(ctx, a, args)
	case "sweep":
		return cmdSweep(ctx, a)
	case "serve":
		return cmdServe(ctx, a)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdSignup(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password")
	fs.Parse(args)

	session, err := a.Auth.SignUp(ctx, *email, *password, *password)
	if err != nil {
		return err
	}
	if session.AccessToken == "" {
		fmt.Println("account created; confirm your email, then log in")
		return nil
	}
	saveSession(a)
	fmt.Printf("signed up as %s\n", *email)
	return nil
}

func cmdLogin(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password")
	fs.Parse(args)

	if _, err := a.Auth.SignIn(ctx, *email, *password); err != nil {
		return err
	}
	saveSession(a)
	fmt.Printf("signed in as %s\n", *email)
	return nil
}

func cmdLogout(ctx context.Context, a *app.Application) error {
	err := a.Auth.SignOut(ctx)
	os.Remove(sessionPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: backend sign-out failed; local session cleared")
	}
	fmt.Println("signed out")
	return nil
}

func cmdWhoami(a *app.Application) error {
	user := a.Auth.CurrentUser()
	if user == nil {
		return auth.ErrNoSession
	}
	fmt.Printf("%s (%s)\n", user.Email, user.ID)
	return nil
}

func cmdRecord(ctx context.Context, a *app.Application) error {
	userID, err := requireUser(ctx, a)
	if err != nil {
		return err
	}

	if err := a.Recorder.Start(); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "recording; press Ctrl-C to stop")
	<-ctx.Done()

	cap, err := a.Recorder.Stop()
	if err != nil {
		return err
	}
	if cap == nil {
		return nil
	}
	defer cap.Discard()

	// The interrupt cancelled ctx; uploading needs a fresh one.
	asset, err := a.Uploader.Upload(context.Background(), cap, userID)
	if err != nil {
		return err
	}
	fmt.Printf("uploaded %s as %s\n", asset.Name, asset.ID)
	return nil
}

func cmdUpload(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	file := fs.String("file", "", "Path to the audio file")
	fs.Parse(args)

	userID, err := requireUser(ctx, a)
	if err != nil {
		return err
	}

	picker := &capture.PathPicker{Path: *file}
	cap, err := picker.Pick(ctx)
	if err != nil {
		return err
	}
	if cap == nil {
		fmt.Println("nothing selected")
		return nil
	}

	asset, err := a.Uploader.Upload(ctx, cap, userID)
	if err != nil {
		return err
	}
	fmt.Printf("uploaded %s as %s\n", asset.Name, asset.ID)
	return nil
}

func cmdList(ctx context.Context, a *app.Application) error {
	userID, err := requireUser(ctx, a)
	if err != nil {
		return err
	}

	assets, err := a.Library.List(ctx, userID)
	if err != nil {
		return err
	}
	if len(assets) == 0 {
		fmt.Println("no sounds yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDURATION\tCREATED")
	for _, s := range assets {
		dur := "-"
		if s.Duration != nil {
			dur = fmt.Sprintf("%.1fs", *s.Duration)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Name, dur, s.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func cmdPlay(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	id := fs.String("id", "", "Sound ID")
	fs.Parse(args)

	userID, err := requireUser(ctx, a)
	if err != nil {
		return err
	}

	asset, err := a.Library.Get(ctx, userID, *id)
	if err != nil {
		return err
	}
	if err := a.Player.Play(ctx, asset); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "playing %s; press Ctrl-C to stop\n", asset.Name)
	<-ctx.Done()
	a.Player.Stop()
	return nil
}

func cmdDelete(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.String("id", "", "Sound ID")
	fs.Parse(args)

	userID, err := requireUser(ctx, a)
	if err != nil {
		return err
	}

	if err := a.Library.Delete(ctx, userID, *id); err != nil {
		return err
	}
	fmt.Println("deleted")
	return nil
}

func cmdMix(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("mix", flag.ExitOnError)
	name := fs.String("name", "", "Mix name")
	sounds := fs.String("sounds", "", "Comma-separated sound IDs")
	fs.Parse(args)

	userID, err := requireUser(ctx, a)
	if err != nil {
		return err
	}

	ids := strings.Split(*sounds, ",")
	m, err := a.Mixer.Save(ctx, userID, *name, ids)
	if err != nil {
		return err
	}
	fmt.Printf("saved mix %s with %d sounds\n", m.ID, len(m.SoundIDs))
	return nil
}

func cmdMixes(ctx context.Context, a *app.Application) error {
	userID, err := requireUser(ctx, a)
	if err != nil {
		return err
	}

	mixes, err := a.Mixer.List(ctx, userID)
	if err != nil {
		return err
	}
	if len(mixes) == 0 {
		fmt.Println("no mixes yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSOUNDS\tCREATED")
	for _, m := range mixes {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", m.ID, m.Name, len(m.SoundIDs), m.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func cmdResetPassword(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("reset-password", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	fs.Parse(args)

	if err := a.Auth.ResetPassword(ctx, *email); err != nil {
		return err
	}
	fmt.Println("reset email sent")
	return nil
}

func cmdSweep(ctx context.Context, a *app.Application) error {
	n, err := a.Janitor.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d orphaned objects\n", n)
	return nil
}

func cmdServe(ctx context.Context, a *app.Application) error {
	if err := a.Janitor.Start(); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "running; press Ctrl-C to stop")
	<-ctx.Done()
	return nil
}

// requireUser refreshes the session if needed and returns the user ID.
func requireUser(ctx context.Context, a *app.Application) (string, error) {
	if err := a.Auth.EnsureFresh(ctx); err != nil {
		return "", err
	}
	saveSession(a)
	user := a.Auth.CurrentUser()
	if user == nil {
		return "", auth.ErrNoSession
	}
	return user.ID, nil
}

// Session persistence across invocations -------------------------------------

func sessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "meloofy", "session.json")
}

func restoreSession(a *app.Application) {
	data, err := os.ReadFile(sessionPath())
	if err != nil {
		return
	}
	var s sb.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return
	}
	a.Auth.Restore(&s)
}

func saveSession(a *app.Application) {
	s := a.Auth.CurrentSession()
	if s == nil {
		return
	}
	path := sessionPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o600)
}

func fatal(err error) {
	var v *auth.ValidationError
	if errors.As(err, &v) {
		fmt.Fprintf(os.Stderr, "meloofy: %s: %s\n", v.Field, v.Reason)
		os.Exit(2)
	}
	fmt.Fprintf(os.Stderr, "meloofy: %v\n", err)
	os.Exit(1)
}

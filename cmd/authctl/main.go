package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/veltaid/authkit/pkg/authkit"
	"github.com/veltaid/authkit/pkg/slogx"
	"github.com/veltaid/authkit/pkg/storage"
)

const usage = `authctl - command line client for authkit providers

Usage:
  authctl login              log in with email and password
  authctl login-web          log in through the browser (authorization code + PKCE)
  authctl whoami             show the current user's profile
  authctl token              print a valid access token
  authctl logout             end the local session
  authctl revoke             revoke the refresh token and end the session

Configuration comes from AUTHKIT_* environment variables (or a .env file):
  AUTHKIT_DOMAIN, AUTHKIT_CLIENT_ID, AUTHKIT_TENANT_ID,
  AUTHKIT_REDIRECT_URI, AUTHKIT_SCOPE, AUTHKIT_TOKEN_FILE
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "authctl: %v\n", err)
		os.Exit(1)
	}
}

func run(command string) error {
	// A missing .env file is fine, the environment may already be set
	_ = godotenv.Load()

	log := slogx.New(slogx.Config{
		Level:  getEnvOrDefault("AUTHKIT_LOG_LEVEL", "warn"),
		Format: "text",
	})

	store, err := storage.NewFile(tokenFile())
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}

	cfg := authkit.LoadConfigFromEnv()
	cfg.Storage = store
	cfg.Logger = log
	cfg.Navigator = authkit.NavigatorFunc(func(url string) error {
		fmt.Println("Open this URL in your browser:")
		fmt.Println()
		fmt.Println("  " + url)
		fmt.Println()
		return nil
	})

	ctx := context.Background()

	client, err := authkit.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	switch command {
	case "login":
		return login(ctx, client)
	case "login-web":
		return loginWeb(ctx, client)
	case "whoami":
		return whoami(ctx, client)
	case "token":
		return printToken(ctx, client)
	case "logout":
		return client.Logout(ctx)
	case "revoke":
		return client.RevokeToken(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func login(ctx context.Context, client *authkit.Client) error {
	in := bufio.NewReader(os.Stdin)

	email, err := prompt(in, "Email: ")
	if err != nil {
		return err
	}
	password, err := prompt(in, "Password: ")
	if err != nil {
		return err
	}

	profile, err := client.LoginWithCredentials(ctx, authkit.Credentials{
		Email:    email,
		Password: password,
	})

	var mfa *authkit.MFARequiredError
	if errors.As(err, &mfa) {
		fmt.Printf("Second factor required (%s)\n", strings.Join(mfa.Methods, ", "))
		code, promptErr := prompt(in, "Code: ")
		if promptErr != nil {
			return promptErr
		}
		profile, err = client.VerifyMFA(ctx, mfa.ChallengeToken, "totp", code)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Logged in as %v\n", profile["email"])
	return nil
}

func loginWeb(ctx context.Context, client *authkit.Client) error {
	if _, err := client.StartRedirectLogin(ctx); err != nil {
		return err
	}

	in := bufio.NewReader(os.Stdin)
	callback, err := prompt(in, "Paste the full callback URL: ")
	if err != nil {
		return err
	}

	session, err := client.HandleCallback(ctx, callback)
	if err != nil {
		return err
	}

	fmt.Printf("Logged in as %v\n", session.User["sub"])
	return nil
}

func whoami(ctx context.Context, client *authkit.Client) error {
	info, err := client.GetUserInfo(ctx)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printToken(ctx context.Context, client *authkit.Client) error {
	token, err := client.GetAccessToken(ctx)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func prompt(in *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func tokenFile() string {
	if path := os.Getenv("AUTHKIT_TOKEN_FILE"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".authkit-tokens.json"
	}
	return filepath.Join(home, ".authkit", "tokens.json")
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

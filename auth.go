package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gphotos-sync/internal/auth"
	"github.com/tonimelisma/gphotos-sync/internal/config"
)

// errAlreadyAuthenticated is returned when credentials exist and --force was
// not given.
var errAlreadyAuthenticated = errors.New("already authenticated; pass --force to authenticate again")

var flagForce bool

func newAuthenticateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authenticate <dir>",
		Short: "Authorize gphotos-sync to upload the given folder",
		Long: `Opens the browser to authorize access to your photo library and stores the
resulting credentials with the folder's sync state.`,
		Args: cobra.ExactArgs(1),
		RunE: runAuthenticate,
	}

	cmd.Flags().BoolVar(&flagForce, "force", false, "replace existing credentials")

	return cmd
}

func runAuthenticate(cmd *cobra.Command, args []string) error {
	logger, closeLog := cliLogger()
	defer closeLog()

	if err := config.RequireClient(&resolvedCfg.Remote); err != nil {
		return err
	}

	ctx, stop := shutdownContext(cmd.Context(), logger)
	defer stop()

	session, err := openRootSession(ctx, args[0], resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer session.Store.Close()

	if session.State.RequireCredentials() == nil && !flagForce {
		return errAlreadyAuthenticated
	}

	grant, err := session.OAuth.LoginWithBrowser(ctx, resolvedCfg.Remote.RedirectPort, openBrowser)
	if err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	creds := auth.Credentials{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		Expiry:       grant.ExpiryAt(time.Now()),
	}

	if creds.RefreshToken == "" {
		return fmt.Errorf("authenticating: %w", auth.ErrNoRefreshToken)
	}

	if err := session.Store.SaveCredentials(ctx, creds); err != nil {
		return err
	}

	logger.Info("authenticated",
		slog.String("root", session.Root),
		slog.Time("expiry", creds.Expiry),
	)
	statusf(flagQuiet, "Authenticated %s.\n", session.Root)

	return nil
}

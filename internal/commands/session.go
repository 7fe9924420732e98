package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finease/internal/session"
)

var errNotSignedIn = errors.New("not signed in: run `finease signin` first")

func newSignInCommand(e *env) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Start a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.Session.SignIn(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("signing in: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", id.Label())
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&password, "password", "", "account password (required)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func newSignUpCommand(e *env) *cobra.Command {
	var email, password, displayName string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and start a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var name *string
			if cmd.Flags().Changed("display-name") {
				name = &displayName
			}

			id, err := a.Session.SignUp(cmd.Context(), email, password, name)
			if err != nil {
				return fmt.Errorf("signing up: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", id.Label())
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&password, "password", "", "account password (required)")
	cmd.Flags().StringVar(&displayName, "display-name", "", "name shown instead of the email")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func newSignOutCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Session.SignOut(cmd.Context()); err != nil {
				return fmt.Errorf("signing out: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoAmICommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			printIdentity(cmd, a.Session.Current())
			return nil
		},
	}
}

func newProfileCommand(e *env) *cobra.Command {
	var displayName, avatar string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update the display name or avatar of the signed-in identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var fields session.ProfileUpdate
			if cmd.Flags().Changed("display-name") {
				fields.DisplayName = &displayName
			}
			if cmd.Flags().Changed("avatar") {
				fields.AvatarRef = &avatar
			}
			if fields.DisplayName == nil && fields.AvatarRef == nil {
				return errors.New("nothing to update: pass --display-name or --avatar")
			}

			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.Session.UpdateProfile(cmd.Context(), fields)
			if errors.Is(err, session.ErrNoActiveSession) {
				return errNotSignedIn
			}
			if err != nil {
				return fmt.Errorf("updating profile: %w", err)
			}
			printIdentity(cmd, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&displayName, "display-name", "", "new display name")
	cmd.Flags().StringVar(&avatar, "avatar", "", "new avatar reference")

	return cmd
}

func printIdentity(cmd *cobra.Command, id *session.Identity) {
	out := cmd.OutOrStdout()
	if id == nil {
		fmt.Fprintln(out, "Not signed in")
		return
	}
	fmt.Fprintf(out, "%s\n", id.Label())
	fmt.Fprintf(out, "  id:     %s\n", id.ID)
	if id.Email != nil {
		fmt.Fprintf(out, "  email:  %s\n", *id.Email)
	}
	if id.AvatarRef != nil {
		fmt.Fprintf(out, "  avatar: %s\n", *id.AvatarRef)
	}
}

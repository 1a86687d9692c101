package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"meetbot/pkg/auth"
	"meetbot/pkg/fault"
)

var (
	authEmail    string
	authPassword string
	authFullName string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		in := bufio.NewReader(cmd.InOrStdin())
		email := resolveField(in, cmd.OutOrStdout(), "Email", authEmail)
		password := resolveField(in, cmd.OutOrStdout(), "Password", authPassword)

		withSession("cmd.login", func(ctx context.Context, sessions *auth.Manager, _ *slog.Logger) {
			session, err := sessions.Login(ctx, email, password)
			if err != nil {
				fmt.Printf("login failed: %s\n", fault.Message(err))
				return
			}
			fmt.Printf("Logged in as %s\n", displayName(session))
		})
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		in := bufio.NewReader(cmd.InOrStdin())
		out := cmd.OutOrStdout()
		fullName := resolveField(in, out, "Full name", authFullName)
		email := resolveField(in, out, "Email", authEmail)
		password := resolveField(in, out, "Password", authPassword)
		confirm := resolveField(in, out, "Confirm password", authPassword)

		withSession("cmd.signup", func(ctx context.Context, sessions *auth.Manager, _ *slog.Logger) {
			result, err := sessions.Signup(ctx, fullName, email, password, confirm)
			if err != nil {
				fmt.Printf("signup failed: %s\n", fault.Message(err))
				return
			}
			fmt.Println(signupOutcome(result))
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		withSession("cmd.logout", func(ctx context.Context, sessions *auth.Manager, _ *slog.Logger) {
			if err := sessions.Logout(ctx); err != nil {
				fmt.Printf("logout failed: %v\n", err)
				return
			}
			fmt.Println("Logged out")
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the signed-in user",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		withSession("cmd.whoami", func(ctx context.Context, sessions *auth.Manager, _ *slog.Logger) {
			user, err := sessions.Profile(ctx)
			if err != nil {
				fmt.Println("Not logged in")
				return
			}
			fmt.Printf("%s <%s>\n", user.FullName, user.Email)
		})
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(signupCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)

	for _, c := range []*cobra.Command{loginCmd, signupCmd} {
		c.Flags().StringVarP(&authEmail, "email", "e", "", "account email")
		c.Flags().StringVarP(&authPassword, "password", "p", "", "account password")
	}
	signupCmd.Flags().StringVarP(&authFullName, "name", "n", "", "full name")
}

// withSession loads config and a session manager, runs fn and closes the store.
func withSession(component string, fn func(ctx context.Context, sessions *auth.Manager, log *slog.Logger)) {
	cfg, log, err := loadRuntime(component)
	if err != nil {
		fmt.Println(err)
		return
	}

	sessions, closeStore, err := openSession(cfg, apiClient(cfg, log), nil, log)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer closeStore()

	ctx, stop := runContext()
	defer stop()

	fn(ctx, sessions, log)
}

// resolveField returns the flag value, or prompts for it on in.
func resolveField(in *bufio.Reader, out io.Writer, label, flag string) string {
	if strings.TrimSpace(flag) != "" {
		return flag
	}

	fmt.Fprintf(out, "%s: ", label)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}

	return strings.TrimRight(line, "\r\n")
}

func displayName(session *auth.Session) string {
	if session == nil || session.User == nil {
		return "unknown user"
	}
	if name := strings.TrimSpace(session.User.FullName); name != "" {
		return name
	}

	return session.User.Email
}

func signupOutcome(result *auth.SignupResult) string {
	switch {
	case result == nil:
		return "Signup failed"
	case result.VerificationRequired:
		return result.Message + " Then run meetbot login."
	case result.Session != nil:
		return "Signed up as " + displayName(result.Session)
	case result.Message != "":
		return result.Message
	default:
		return "Signup complete. Run meetbot login."
	}
}

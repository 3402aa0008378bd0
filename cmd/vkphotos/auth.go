package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"vkphotos/pkg/auth"
	"vkphotos/pkg/ui"
)

var (
	loginUserID uint64
	logoutAll   bool
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage API access tokens",
	Long: `Manage stored API access tokens.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - The VKPHOTOS_ACCESS_TOKEN environment variable (read only)

Never share your tokens or config files!`,
}

var loginCmd = &cobra.Command{
	Use:   "login <name>",
	Short: "Store an access token securely",
	Long: `Store an access token under a name. The token is read from stdin
without echo when stdin is a terminal.`,
	Example: `  vkphotos auth login main
  echo "$TOKEN" | vkphotos auth login ci --user-id 6492`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [name]",
	Short: "Remove stored tokens",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts with masked tokens",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd, logoutCmd, listCmd)

	loginCmd.Flags().Uint64Var(&loginUserID, "user-id", 0, "numeric id of the account owning the token")
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "remove every stored account")
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	name := strings.TrimSpace(args[0])
	if existing, _ := manager.Retrieve(name); existing != nil {
		ui.PrintWarning("Replacing the stored token of " + name)
	}

	fmt.Fprint(os.Stderr, "Access token: ")
	token, err := readSecret()
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	if token == "" {
		return errors.New("access token is empty")
	}

	account := &auth.Account{Name: name, UserID: loginUserID, AccessToken: token}
	if err := manager.Store(account); err != nil {
		return err
	}

	ui.PrintSuccess("Account saved: " + name)
	ui.PrintInfo("Token", auth.SanitizeAccount(account).AccessToken)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	if logoutAll {
		if err := manager.DeleteAll(); err != nil {
			return err
		}
		ui.PrintSuccess("All accounts removed")
		return nil
	}
	if len(args) == 0 {
		return errors.New("name an account or pass --all")
	}

	if err := manager.Delete(args[0]); err != nil {
		return err
	}
	ui.PrintSuccess("Account removed: " + args[0])
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "use 'vkphotos auth login <name>' to add one")
		return nil
	}

	ui.PrintHighlight("Stored Accounts")
	for _, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		ui.PrintInfo("Name", sanitized.Name)
		if sanitized.UserID != 0 {
			ui.PrintInfo("  User ID", strconv.FormatUint(sanitized.UserID, 10))
		}
		ui.PrintInfo("  Token", sanitized.AccessToken)
		ui.PrintInfo("  Last Modified", sanitized.LastModified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// readSecret reads a line from stdin without echo when possible
func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// Package main is the entrypoint for the Tadreeb LMS admin CLI.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Abmarne/tadreeblms/internal/config"
	"github.com/Abmarne/tadreeblms/internal/httpclient"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tadreeb-admin",
		Short: "Tadreeb LMS admin CLI - manage the server license from the terminal",
		Long: `Tadreeb Admin is an operator CLI for a Tadreeb LMS server.

It manages the server's license lifecycle: activation, revalidation,
roster sync with the licensing server, and seat usage reporting.

Run 'tadreeb-admin register --server <url>' to point it at a server.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newRegisterCmd(),
		newConfigCmd(),
		newStatusCmd(),
		newLicenseCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Tadreeb Admin %s\n", Version)
			fmt.Printf("  Commit: %s\n", Commit)
			fmt.Printf("  Built:  %s\n", BuildDate)
		},
	}
}

func newRegisterCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Point this CLI at a Tadreeb LMS server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateServerURL(serverURL); err != nil {
				return err
			}

			cfg, err := config.LoadDefaultAdminConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			cfg.ServerURL = strings.TrimSuffix(serverURL, "/")

			if err := cfg.SaveDefault(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			configPath, _ := config.DefaultAdminConfigPath()
			fmt.Printf("Configuration saved to %s\n", configPath)
			fmt.Printf("Server: %s\n", cfg.ServerURL)
			fmt.Println("Run 'tadreeb-admin status' to verify the connection.")
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Tadreeb LMS server URL (required)")
	_ = cmd.MarkFlagRequired("server")

	return cmd
}

func validateServerURL(serverURL string) error {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("server URL must use http or https scheme")
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show current configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.LoadDefaultAdminConfig()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}

				configPath, _ := config.DefaultAdminConfigPath()
				fmt.Printf("Config file: %s\n", configPath)
				fmt.Println()

				if !cfg.IsConfigured() {
					fmt.Println("CLI is not configured. Run 'tadreeb-admin register' to set up.")
					return nil
				}

				fmt.Printf("Server URL: %s\n", cfg.ServerURL)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set-server <url>",
			Short: "Set the server URL",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := validateServerURL(args[0]); err != nil {
					return err
				}

				cfg, err := config.LoadDefaultAdminConfig()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}

				cfg.ServerURL = strings.TrimSuffix(args[0], "/")

				if err := cfg.SaveDefault(); err != nil {
					return fmt.Errorf("save config: %w", err)
				}

				fmt.Printf("Server URL set to: %s\n", cfg.ServerURL)
				return nil
			},
		},
	)

	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server connection and license state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			fmt.Printf("Server: %s\n", client.baseURL)
			fmt.Print("Checking server connection... ")

			resp, err := client.http.Get(client.baseURL + "/healthz")
			if err != nil {
				fmt.Println("FAILED")
				return fmt.Errorf("connect to server: %w", err)
			}
			resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				fmt.Printf("FAILED (HTTP %d)\n", resp.StatusCode)
				return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
			}
			fmt.Println("OK")
			fmt.Println()

			return runLicenseStatus(client)
		},
	}
}

func newLicenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Manage the server's license",
	}

	cmd.AddCommand(
		newLicenseStatusCmd(),
		newLicenseActivateCmd(),
		newLicenseRevalidateCmd(),
		newLicenseSyncCmd(),
		newLicenseUsageCmd(),
		newLicenseRemoveCmd(),
	)

	return cmd
}

func newLicenseStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active license",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			return runLicenseStatus(client)
		},
	}
}

func runLicenseStatus(client *apiClient) error {
	var status licenseStatusResponse
	if err := client.get("/api/v1/license", &status); err != nil {
		return err
	}

	if !status.HasLicense {
		fmt.Println("License: none")
		fmt.Println("Run 'tadreeb-admin license activate <key>' to install one.")
		return nil
	}

	printLicense(status.License)
	if status.Usage != nil {
		fmt.Println()
		printUsage(status.Usage)
	}
	return nil
}

func newLicenseActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <license-key>",
		Short: "Validate a license key and make it the active license",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			body := map[string]string{"license_key": args[0]}
			var result struct {
				Success bool         `json:"success"`
				Code    string       `json:"code"`
				Message string       `json:"message"`
				License *licenseView `json:"license"`
			}
			if err := client.post("/api/v1/license/activate", body, &result); err != nil {
				return err
			}

			if !result.Success {
				fmt.Printf("Activation rejected: %s\n", result.Message)
				if result.Code != "" {
					fmt.Printf("Code: %s\n", result.Code)
				}
				return fmt.Errorf("activation failed")
			}

			fmt.Println("License activated.")
			printLicense(result.License)
			return nil
		},
	}
}

func newLicenseRevalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revalidate",
		Short: "Re-check the active license against the licensing server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var result struct {
				Success bool         `json:"success"`
				Cached  bool         `json:"cached"`
				Code    string       `json:"code"`
				Message string       `json:"message"`
				License *licenseView `json:"license"`
			}
			if err := client.post("/api/v1/license/revalidate", nil, &result); err != nil {
				return err
			}

			switch {
			case result.Success && result.Cached:
				fmt.Println("Licensing server unreachable; serving cached validation (within grace period).")
			case result.Success:
				fmt.Println("License revalidated.")
			default:
				fmt.Printf("Revalidation failed: %s\n", result.Message)
				if result.Code != "" {
					fmt.Printf("Code: %s\n", result.Code)
				}
			}

			if result.License != nil {
				fmt.Println()
				printLicense(result.License)
			}
			if !result.Success {
				return fmt.Errorf("revalidation failed")
			}
			return nil
		},
	}
}

func newLicenseSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the local user roster with the licensing server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var result struct {
				Success  bool     `json:"success"`
				Code     string   `json:"code"`
				Message  string   `json:"message"`
				Detached int      `json:"detached"`
				Created  int      `json:"created"`
				Attached int      `json:"attached"`
				Failed   int      `json:"failed"`
				Total    int      `json:"total"`
				Errors   []string `json:"errors"`
			}
			if err := client.post("/api/v1/license/sync", nil, &result); err != nil {
				return err
			}

			if !result.Success {
				fmt.Printf("Sync failed: %s\n", result.Message)
				for _, e := range result.Errors {
					fmt.Printf("  - %s\n", e)
				}
				return fmt.Errorf("sync failed")
			}

			fmt.Println("Roster sync complete.")
			fmt.Printf("  Detached: %d\n", result.Detached)
			fmt.Printf("  Created:  %d\n", result.Created)
			fmt.Printf("  Attached: %d\n", result.Attached)
			if result.Failed > 0 {
				fmt.Printf("  Failed:   %d of %d\n", result.Failed, result.Total)
				for _, e := range result.Errors {
					fmt.Printf("    - %s\n", e)
				}
			}
			return nil
		},
	}
}

func newLicenseUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show seat usage under the active license",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var stats usageStats
			if err := client.get("/api/v1/license/usage", &stats); err != nil {
				return err
			}

			printUsage(&stats)
			return nil
		},
	}
}

func newLicenseRemoveCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Deactivate the active license",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			if !force {
				fmt.Print("Remove the active license? [y/N] ")
				var response string
				fmt.Scanln(&response)
				response = strings.TrimSpace(strings.ToLower(response))
				if response != "y" && response != "yes" {
					fmt.Println("Cancelled.")
					return nil
				}
			}

			var result struct {
				Removed bool   `json:"removed"`
				Message string `json:"message"`
			}
			err = client.delete("/api/v1/license", &result)
			if err != nil {
				var apiErr *apiError
				if asAPIError(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
					fmt.Println("No active license to remove.")
					return nil
				}
				return err
			}

			fmt.Println("License removed.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Remove without confirmation")

	return cmd
}

// Response shapes mirrored from the server API.

type licenseStatusResponse struct {
	HasLicense bool         `json:"has_license"`
	License    *licenseView `json:"license"`
	Usage      *usageStats  `json:"usage"`
}

type licenseView struct {
	ID                string     `json:"id"`
	MaskedKey         string     `json:"masked_key"`
	Status            string     `json:"status"`
	MaxUsers          *int       `json:"max_users"`
	LicenseType       string     `json:"license_type"`
	LicensedTo        string     `json:"licensed_to"`
	LicenseeEmail     string     `json:"licensee_email"`
	ExpiryDate        *time.Time `json:"expiry_date"`
	SupportValidUntil *time.Time `json:"support_valid_until"`
	LastValidatedAt   *time.Time `json:"last_validated_at"`
	Usable            bool       `json:"usable"`
}

type usageStats struct {
	HasLicense   bool    `json:"has_license"`
	ActiveUsers  int     `json:"active_users"`
	MaxUsers     *int    `json:"max_users"`
	Remaining    *int    `json:"remaining"`
	UsagePercent float64 `json:"usage_percent"`
	Exceeded     bool    `json:"exceeded"`
	Warning      bool    `json:"warning"`
}

func printLicense(lic *licenseView) {
	if lic == nil {
		return
	}
	fmt.Printf("License:      %s\n", lic.MaskedKey)
	fmt.Printf("Status:       %s\n", lic.Status)
	fmt.Printf("Licensed to:  %s\n", lic.LicensedTo)
	fmt.Printf("Type:         %s\n", lic.LicenseType)
	if lic.MaxUsers != nil {
		fmt.Printf("Max users:    %d\n", *lic.MaxUsers)
	} else {
		fmt.Printf("Max users:    unlimited\n")
	}
	if lic.ExpiryDate != nil {
		fmt.Printf("Expires:      %s\n", lic.ExpiryDate.Format("2006-01-02"))
	}
	if lic.SupportValidUntil != nil {
		fmt.Printf("Support until: %s\n", lic.SupportValidUntil.Format("2006-01-02"))
	}
	if lic.LastValidatedAt != nil {
		fmt.Printf("Validated:    %s\n", lic.LastValidatedAt.Format(time.RFC3339))
	}
	fmt.Printf("Usable:       %v\n", lic.Usable)
}

func printUsage(stats *usageStats) {
	if !stats.HasLicense {
		fmt.Println("Usage: no active license")
		return
	}
	if stats.MaxUsers == nil {
		fmt.Printf("Seats: %d in use (unlimited)\n", stats.ActiveUsers)
		return
	}
	fmt.Printf("Seats: %d of %d in use (%.0f%%)\n", stats.ActiveUsers, *stats.MaxUsers, stats.UsagePercent)
	if stats.Remaining != nil {
		fmt.Printf("Remaining: %d\n", *stats.Remaining)
	}
	if stats.Exceeded {
		fmt.Println("WARNING: seat limit exceeded")
	} else if stats.Warning {
		fmt.Println("WARNING: approaching seat limit")
	}
}

// apiClient is a thin JSON client for the server's admin API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient() (*apiClient, error) {
	cfg, err := config.LoadDefaultAdminConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("not configured: run 'tadreeb-admin register --server <url>' first")
	}

	client, err := httpclient.New(httpclient.Options{
		Timeout:     30 * time.Second,
		ProxyConfig: config.LoadProxyConfig(),
	})
	if err != nil {
		return nil, fmt.Errorf("build HTTP client: %w", err)
	}

	return &apiClient{
		baseURL: cfg.ServerURL,
		http:    client,
	}, nil
}

type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server error (HTTP %d)", e.StatusCode)
}

func asAPIError(err error, target **apiError) bool {
	e, ok := err.(*apiError)
	if ok {
		*target = e
	}
	return ok
}

func (c *apiClient) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *apiClient) post(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}

func (c *apiClient) delete(path string, out any) error {
	return c.do(http.MethodDelete, path, nil, out)
}

func (c *apiClient) do(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// 422 carries a structured result the caller wants to show.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusUnprocessableEntity {
		var errBody struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &errBody)
		msg := errBody.Error
		if msg == "" {
			msg = errBody.Message
		}
		return &apiError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

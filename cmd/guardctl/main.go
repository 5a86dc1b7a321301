package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/org/authguard/internal/auth"
	"github.com/org/authguard/internal/crypto"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "Authority Guard CLI",
	Long:  "A CLI for managing approvals, permission requests, and the emergency lock.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(lockCmd())
	rootCmd.AddCommand(contextCmd())
	rootCmd.AddCommand(auditCmd())
}

// deviceIDOrDefault resolves the device ID from the flag, env, or config.
func deviceIDOrDefault(cmd *cobra.Command) string {
	if v, _ := cmd.Flags().GetString("device"); v != "" {
		return v
	}
	if v := os.Getenv("GUARD_DEVICE_ID"); v != "" {
		return v
	}
	return cfg.DeviceID
}

// --- auth ---

func authCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Device authentication"}

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Complete a challenge-response login and save the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID := deviceIDOrDefault(cmd)
			if deviceID == "" {
				printError("device ID required (--device, GUARD_DEVICE_ID, or config)")
				return nil
			}
			secretHex := os.Getenv("GUARD_ROOT_SECRET")
			if v, _ := cmd.Flags().GetString("root-secret"); v != "" {
				secretHex = v
			}
			if secretHex == "" {
				printError("root secret required to sign the challenge (GUARD_ROOT_SECRET)")
				return nil
			}
			rootSecret, err := crypto.ParseRootSecret(secretHex)
			if err != nil {
				printError(err.Error())
				return nil
			}

			client := newClient()
			challenge, err := client.post("/v1/auth/challenge", map[string]any{"device_id": deviceID})
			if err != nil {
				printError(err.Error())
				return nil
			}
			challengeID, _ := challenge["id"].(string)
			nonceB64, _ := challenge["nonce"].(string)
			nonce, err := base64.StdEncoding.DecodeString(nonceB64)
			if err != nil {
				printError("server returned malformed nonce")
				return nil
			}

			response, err := auth.SignFor(rootSecret, deviceID, nonce)
			if err != nil {
				printError(err.Error())
				return nil
			}
			ownerID, _ := cmd.Flags().GetString("owner")
			result, err := client.post("/v1/auth/challenge/"+challengeID+"/validate", map[string]any{
				"response": base64.StdEncoding.EncodeToString(response),
				"owner_id": ownerID,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}

			if tok, ok := result["token"].(string); ok {
				cfg.Token = tok
				cfg.DeviceID = deviceID
				if err := saveConfig(); err == nil {
					fmt.Fprintln(os.Stderr, "Token saved to config.")
				}
			}
			delete(result, "token")
			printResult(result)
			return nil
		},
	}
	loginCmd.Flags().String("device", "", "Device ID to authenticate as")
	loginCmd.Flags().String("owner", "", "Owner ID to bind to the session")
	loginCmd.Flags().String("root-secret", "", "Hex root secret (prefer GUARD_ROOT_SECRET)")

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/auth/session/revoke", nil); err != nil {
				printError(err.Error())
				return nil
			}
			cfg.Token = ""
			saveConfig() //nolint:errcheck
			printSuccess("Success! Session revoked.")
			return nil
		},
	}

	enrollOwnerCmd := &cobra.Command{
		Use:   "enroll-owner <owner-id>",
		Short: "Enroll an owner with a verification code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, _ := cmd.Flags().GetString("code")
			if code == "" {
				printError("--code is required")
				return nil
			}
			client := newClient()
			result, err := client.post("/v1/owners", map[string]any{
				"owner_id": args[0],
				"code":     code,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	enrollOwnerCmd.Flags().String("code", "", "Owner verification code (min 8 characters)")

	enrollDeviceCmd := &cobra.Command{
		Use:   "enroll-device <device-id>",
		Short: "Enroll a device at the initial trust level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/devices", map[string]any{"device_id": args[0]})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(loginCmd, logoutCmd, enrollOwnerCmd, enrollDeviceCmd)
	return cmd
}

// --- approval ---

func approvalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "approval", Short: "Manage owner approvals"}

	createCmd := &cobra.Command{
		Use:   "create <action-id>",
		Short: "Grant a time-boxed owner approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actionType, _ := cmd.Flags().GetString("action-type")
			description, _ := cmd.Flags().GetString("description")
			hours, _ := cmd.Flags().GetFloat64("hours")
			client := newClient()
			result, err := client.post("/v1/approvals", map[string]any{
				"action_id":   args[0],
				"action_type": actionType,
				"description": description,
				"device_id":   deviceIDOrDefault(cmd),
				"hours_valid": hours,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().String("action-type", "", "Action type to approve")
	createCmd.Flags().String("description", "", "Human-readable description")
	createCmd.Flags().Float64("hours", 0, "Validity window in hours (0 = policy default)")
	createCmd.Flags().String("device", "", "Device the approval applies to")

	getCmd := &cobra.Command{
		Use:   "get <action-id>",
		Short: "Read an approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/approvals/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	validCmd := &cobra.Command{
		Use:   "valid <action-id>",
		Short: "Check whether an approval is currently valid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/approvals/" + args[0] + "/valid")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	expireCmd := &cobra.Command{
		Use:   "expire <action-id>",
		Short: "Revoke an approval before its natural expiry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/approvals/"+args[0]+"/expire", nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Approval expired.")
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/approvals")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Purge expired permissions from the active list",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/approvals/cleanup", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(createCmd, getCmd, validCmd, expireCmd, listCmd, cleanupCmd)
	return cmd
}

// --- request ---

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "request", Short: "Manage permission requests"}

	createCmd := &cobra.Command{
		Use:   "create <action-type>",
		Short: "Open a pending permission request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")
			client := newClient()
			result, err := client.post("/v1/requests", map[string]any{
				"device_id":   deviceIDOrDefault(cmd),
				"action_type": args[0],
				"description": description,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().String("description", "", "Why the action is needed")
	createCmd.Flags().String("device", "", "Requesting device ID")

	getCmd := &cobra.Command{
		Use:   "get <request-id>",
		Short: "Read a permission request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/requests/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	approveCmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a pending request, granting a time-boxed permission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/requests/"+args[0]+"/approve", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	rejectCmd := &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/requests/"+args[0]+"/reject", nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Request rejected.")
			return nil
		},
	}

	cmd.AddCommand(createCmd, getCmd, approveCmd, rejectCmd)
	return cmd
}

// --- check ---

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <action-type>",
		Short: "Evaluate the permission gate for an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requireApproval, _ := cmd.Flags().GetBool("require-approval")
			client := newClient()
			result, err := client.post("/v1/permission/check", map[string]any{
				"device_id":              deviceIDOrDefault(cmd),
				"action_type":            args[0],
				"require_owner_approval": requireApproval,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().Bool("require-approval", true, "Whether the action needs an explicit owner approval")
	cmd.Flags().String("device", "", "Device ID to check")
	return cmd
}

// --- lock ---

func lockCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "lock", Short: "Emergency lock operations"}

	triggerCmd := &cobra.Command{
		Use:   "trigger <reason>",
		Short: "Activate the emergency lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, _ := cmd.Flags().GetFloat64("hours")
			client := newClient()
			result, err := client.post("/v1/lock/trigger", map[string]any{
				"reason":        args[0],
				"expires_hours": hours,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	triggerCmd.Flags().Float64("hours", 0, "Lock duration in hours (0 = policy default)")

	remoteCmd := &cobra.Command{
		Use:   "remote <target-device-id> <reason>",
		Short: "Lock a device remotely with an admin token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _ := cmd.Flags().GetString("admin-token")
			if token == "" {
				token = os.Getenv("GUARD_ADMIN_TOKEN")
			}
			hours, _ := cmd.Flags().GetFloat64("hours")
			client := newClient()
			result, err := client.post("/v1/lock/remote", map[string]any{
				"target_device_id": args[0],
				"reason":           args[1],
				"admin_token":      token,
				"expires_hours":    hours,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	remoteCmd.Flags().String("admin-token", "", "Admin token bound to the target device")
	remoteCmd.Flags().Float64("hours", 0, "Lock duration in hours (0 = policy default)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current lock state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/lock/status")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <owner-id>",
		Short: "Clear the lock with owner verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, _ := cmd.Flags().GetString("code")
			if code == "" {
				printError("--code is required")
				return nil
			}
			client := newClient()
			result, err := client.post("/v1/lock/clear", map[string]any{
				"device_id":         deviceIDOrDefault(cmd),
				"owner_id":          args[0],
				"verification_code": code,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	clearCmd.Flags().String("code", "", "Owner verification code")
	clearCmd.Flags().String("device", "", "Device requesting the clear")

	allowedCmd := &cobra.Command{
		Use:   "allowed <action-type>",
		Short: "Check whether an action is exempt during a lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/lock/allowed/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	conditionsCmd := &cobra.Command{
		Use:   "conditions",
		Short: "Evaluate auto-trigger rules against a device's security context",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/lock/conditions", map[string]any{
				"device_id": deviceIDOrDefault(cmd),
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	conditionsCmd.Flags().String("device", "", "Device ID to evaluate")

	cmd.AddCommand(triggerCmd, remoteCmd, statusCmd, clearCmd, allowedCmd, conditionsCmd)
	return cmd
}

// --- context ---

func contextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context [device-id]",
		Short: "Show a device's security context",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID := deviceIDOrDefault(cmd)
			if len(args) > 0 {
				deviceID = args[0]
			}
			if deviceID == "" {
				printError("device ID required")
				return nil
			}
			client := newClient()
			result, err := client.get("/v1/context/" + deviceID)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("device", "", "Device ID")
	return cmd
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			device, _ := cmd.Flags().GetString("device")
			eventType, _ := cmd.Flags().GetString("event-type")
			limit, _ := cmd.Flags().GetInt("limit")

			path := fmt.Sprintf("/v1/sys/audit-log?limit=%d", limit)
			if device != "" {
				path += "&device_id=" + device
			}
			if eventType != "" {
				path += "&event_type=" + eventType
			}
			client := newClient()
			result, err := client.get(path)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if events, ok := result["events"].([]any); ok {
				for _, e := range events {
					if m, ok := e.(map[string]any); ok {
						fmt.Printf("%v  %v  device=%v  action=%v  %v %v\n",
							m["timestamp"], m["event_type"], m["device_id"], m["action"], m["decision"], m["reason"])
					}
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("device", "", "Filter by device ID")
	cmd.Flags().String("event-type", "", "Filter by event type")
	cmd.Flags().Int("limit", 50, "Maximum events to return")
	return cmd
}

package github

import (
	"fmt"
	"os"
	"strings"
)

const defaultServerURL = "https://github.com"

// ParseOwnerRepo splits "owner/repo" into its parts
func ParseOwnerRepo(repo string) (string, string, error) {
	parts := strings.Split(strings.TrimSpace(repo), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format %q, expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// ServerURL returns GITHUB_SERVER_URL or https://github.com
func ServerURL() string {
	if serverURL := os.Getenv("GITHUB_SERVER_URL"); serverURL != "" {
		return strings.TrimSuffix(serverURL, "/")
	}
	return defaultServerURL
}

// GetWorkflowRunUrl returns the URL of a workflow run of repo
func GetWorkflowRunUrl(repo string, runId int) (string, error) {
	if _, _, err := ParseOwnerRepo(repo); err != nil {
		return "", err
	}
	if runId <= 0 {
		return "", fmt.Errorf("invalid workflow run id: %d", runId)
	}
	return fmt.Sprintf("%s/%s/actions/runs/%d", ServerURL(), repo, runId), nil
}

// GetCheckoutURI returns the file URI of the workspace the SARIF paths are relative to, or "" outside Actions
func GetCheckoutURI() string {
	workspace := os.Getenv("GITHUB_WORKSPACE")
	if workspace == "" {
		return ""
	}
	return "file://" + workspace
}

// GetCodeScanningUrl returns the code scanning alerts page of repo
func GetCodeScanningUrl(repo string) (string, error) {
	if _, _, err := ParseOwnerRepo(repo); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/security/code-scanning", ServerURL(), repo), nil
}

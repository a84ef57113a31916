package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gh-nvat/osps-sarifgate/src/pkg/models"
	"github.com/google/go-github/v66/github"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

var logger = log.WithField("package", "github")

// ErrTokenNotFound is returned when no token was given and none is set in the environment
var ErrTokenNotFound = errors.New("GitHub token not found. Set GH_TOKEN or GITHUB_TOKEN environment variable")

// GitHubClient defines the interface for GitHub API operations
type GitHubClient interface {
	// UploadSarif submits a compressed SARIF document to code scanning
	UploadSarif(ctx context.Context, req models.UploadRequest) (*models.UploadReceipt, error)
	// GetSarifStatus retrieves the processing status of an uploaded SARIF document
	GetSarifStatus(ctx context.Context, repo, sarifID string) (*models.ProcessingStatus, error)
	// GetPR retrieves pull request information
	GetPR(ctx context.Context, repo string, number int) (*models.PullRequest, error)
	// CreateComment creates a new comment on a pull request
	CreateComment(ctx context.Context, repo string, number int, body string) (*models.Comment, error)
	// UpdateComment updates an existing comment
	UpdateComment(ctx context.Context, repo string, commentID int64, body string) error
	// GetComments retrieves all comments for a pull request
	GetComments(ctx context.Context, repo string, number int) ([]*models.Comment, error)
	// FindToolComment finds an existing tool-generated comment containing the search string
	FindToolComment(ctx context.Context, repo string, prNumber int, searchString string) (*models.Comment, error)
}

// Client handles GitHub API interactions using go-github
type Client struct {
	client *github.Client
}

// Ensure Client implements GitHubClient
var _ GitHubClient = (*Client)(nil)

// TokenFromEnv returns GH_TOKEN, falling back to GITHUB_TOKEN
func TokenFromEnv() string {
	token := os.Getenv("GH_TOKEN")
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	return token
}

// NewClientWithToken creates a GitHub client for the given token and API base URL.
// An empty token falls back to the environment; an empty apiURL targets api.github.com.
func NewClientWithToken(token, apiURL string) (*Client, error) {
	if token == "" {
		token = TokenFromEnv()
	}
	if token == "" {
		return nil, ErrTokenNotFound
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	return newClient(tc, apiURL)
}

func newClient(httpClient *http.Client, apiURL string) (*Client, error) {
	client := github.NewClient(httpClient)
	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		baseURL, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", apiURL, err)
		}
		client.BaseURL = baseURL
	}
	return &Client{
		client: client,
	}, nil
}

// UploadSarif submits a compressed SARIF document to code scanning.
// The endpoint answers 202 Accepted with the id used to poll processing.
func (c *Client) UploadSarif(ctx context.Context, req models.UploadRequest) (*models.UploadReceipt, error) {
	owner, repo, err := ParseOwnerRepo(req.Repo)
	if err != nil {
		return nil, fmt.Errorf("failed to parse repository: %w", err)
	}

	analysis := &github.SarifAnalysis{
		CommitSHA: github.String(req.CommitSHA),
		Ref:       github.String(req.Ref),
		Sarif:     github.String(req.Sarif),
	}
	if req.CheckoutURI != "" {
		analysis.CheckoutURI = github.String(req.CheckoutURI)
	}
	if req.ToolName != "" {
		analysis.ToolName = github.String(req.ToolName)
	}
	if !req.StartedAt.IsZero() {
		analysis.StartedAt = &github.Timestamp{Time: req.StartedAt}
	}

	logger.WithField("repo", req.Repo).WithField("ref", req.Ref).WithField("commit", req.CommitSHA).Debug("Uploading SARIF")
	sarifID, resp, err := c.client.CodeScanning.UploadSarif(ctx, owner, repo, analysis)
	if err != nil {
		return nil, toEndpointError(err, resp)
	}

	return &models.UploadReceipt{
		ID:  sarifID.GetID(),
		URL: sarifID.GetURL(),
	}, nil
}

// GetSarifStatus retrieves the processing status of an uploaded SARIF document
func (c *Client) GetSarifStatus(ctx context.Context, repo, sarifID string) (*models.ProcessingStatus, error) {
	owner, repo, err := ParseOwnerRepo(repo)
	if err != nil {
		return nil, fmt.Errorf("failed to parse repository: %w", err)
	}

	upload, resp, err := c.client.CodeScanning.GetSARIF(ctx, owner, repo, sarifID)
	if err != nil {
		return nil, toEndpointError(err, resp)
	}

	return &models.ProcessingStatus{
		Status:      upload.GetProcessingStatus(),
		AnalysesURL: upload.GetAnalysesURL(),
	}, nil
}

// toEndpointError maps go-github errors onto models.EndpointError
func toEndpointError(err error, resp *github.Response) error {
	endpointErr := &models.EndpointError{Err: err}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var ghErr *github.ErrorResponse
	switch {
	case errors.As(err, &rateErr):
		endpointErr.StatusCode = http.StatusTooManyRequests
		endpointErr.Message = rateErr.Message
	case errors.As(err, &abuseErr):
		endpointErr.StatusCode = http.StatusTooManyRequests
		endpointErr.Message = abuseErr.Message
	case errors.As(err, &ghErr) && ghErr.Response != nil:
		endpointErr.StatusCode = ghErr.Response.StatusCode
		endpointErr.Message = ghErr.Message
	case resp != nil && resp.Response != nil:
		endpointErr.StatusCode = resp.StatusCode
	}
	return endpointErr
}

// GetPR retrieves pull request information
func (c *Client) GetPR(ctx context.Context, repo string, number int) (*models.PullRequest, error) {
	owner, repo, err := ParseOwnerRepo(repo)
	if err != nil {
		return nil, fmt.Errorf("failed to parse repository: %w", err)
	}
	pr, _, err := c.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get PR: %w", err)
	}

	return &models.PullRequest{
		Number:  pr.GetNumber(),
		BaseRef: pr.GetBase().GetRef(),
		BaseSHA: pr.GetBase().GetSHA(),
		HeadRef: pr.GetHead().GetRef(),
		HeadSHA: pr.GetHead().GetSHA(),
	}, nil
}

// CreateComment creates a new comment on a pull request
func (c *Client) CreateComment(ctx context.Context, repo string, number int, body string) (*models.Comment, error) {
	owner, repo, err := ParseOwnerRepo(repo)
	if err != nil {
		return nil, fmt.Errorf("failed to parse repository: %w", err)
	}
	comment := &github.IssueComment{
		Body: github.String(body),
	}

	created, _, err := c.client.Issues.CreateComment(ctx, owner, repo, number, comment)
	if err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}

	return &models.Comment{
		ID:   created.GetID(),
		Body: created.GetBody(),
	}, nil
}

// UpdateComment updates an existing comment
func (c *Client) UpdateComment(ctx context.Context, repo string, commentID int64, body string) error {
	owner, repo, err := ParseOwnerRepo(repo)
	if err != nil {
		return fmt.Errorf("failed to parse repository: %w", err)
	}
	comment := &github.IssueComment{
		Body: github.String(body),
	}

	_, res, err := c.client.Issues.EditComment(ctx, owner, repo, commentID, comment)
	logger.WithField("commentID", commentID).WithField("response", res).Debug("Updated comment")
	if err != nil {
		return fmt.Errorf("failed to update comment: %w", err)
	}

	return nil
}

// GetComments retrieves all comments for a pull request, following pagination
func (c *Client) GetComments(ctx context.Context, repo string, prNumber int) ([]*models.Comment, error) {
	owner, repo, err := ParseOwnerRepo(repo)
	if err != nil {
		return nil, fmt.Errorf("failed to parse repository: %w", err)
	}
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var allComments []*models.Comment
	for {
		comments, resp, err := c.client.Issues.ListComments(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to get comments: %w", err)
		}

		for _, c := range comments {
			allComments = append(allComments, &models.Comment{
				ID:   c.GetID(),
				Body: c.GetBody(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allComments, nil
}

// FindToolComment finds an existing tool-generated comment containing the search string
// If multiple comments with the same marker exist, returns the first one found
func (c *Client) FindToolComment(ctx context.Context, repo string, prNumber int, searchString string) (*models.Comment, error) {
	comments, err := c.GetComments(ctx, repo, prNumber)
	if err != nil {
		return nil, err
	}

	for _, comment := range comments {
		if strings.Contains(comment.Body, searchString) {
			return comment, nil
		}
	}

	return nil, nil // Returns nil if not found
}

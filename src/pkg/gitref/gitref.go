package gitref

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "gitref")

// ErrDetachedHead is returned when HEAD points at a commit rather than a branch
var ErrDetachedHead = errors.New("HEAD is detached, no ref available")

// Head is the commit and fully qualified ref a SARIF upload is attached to
type Head struct {
	CommitSHA string
	Ref       string // e.g. refs/heads/main
}

// ReadHead reads HEAD of the git repository containing dir.
// Ref is empty when HEAD is detached.
func ReadHead(dir string) (*Head, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository at %s: %w", dir, err)
	}
	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}

	head := &Head{CommitSHA: ref.Hash().String()}
	if ref.Name() != plumbing.HEAD {
		head.Ref = ref.Name().String()
	}
	return head, nil
}

// Resolve fills commitSHA and ref from GITHUB_SHA / GITHUB_REF, then from the git repository at dir.
// Explicit values always win.
func Resolve(commitSHA, ref, dir string) (*Head, error) {
	head := &Head{CommitSHA: commitSHA, Ref: ref}
	if head.CommitSHA == "" {
		head.CommitSHA = os.Getenv("GITHUB_SHA")
	}
	if head.Ref == "" {
		head.Ref = os.Getenv("GITHUB_REF")
	}
	if head.CommitSHA != "" && head.Ref != "" {
		return head, nil
	}

	local, err := ReadHead(dir)
	if err != nil {
		return nil, err
	}
	logger.WithField("commit", local.CommitSHA).WithField("ref", local.Ref).Debug("Resolved HEAD from local repository")
	if head.CommitSHA == "" {
		head.CommitSHA = local.CommitSHA
	}
	if head.Ref == "" {
		if local.Ref == "" {
			return nil, ErrDetachedHead
		}
		head.Ref = local.Ref
	}
	return head, nil
}

var pullRefPattern = regexp.MustCompile(`^refs/pull/(\d+)/(merge|head)$`)

// PullRequestNumber extracts the PR number from refs/pull/<n>/merge, or 0
func PullRequestNumber(ref string) int {
	m := pullRefPattern.FindStringSubmatch(ref)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// IsValidRef reports whether ref is a fully qualified ref the code scanning endpoint accepts
func IsValidRef(ref string) bool {
	name := plumbing.ReferenceName(ref)
	return name.IsBranch() || name.IsTag() || pullRefPattern.MatchString(ref)
}

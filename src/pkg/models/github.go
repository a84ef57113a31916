package models

// PullRequest holds the pull request fields the runner needs to resolve ref and commit
type PullRequest struct {
	Number  int
	BaseRef string
	BaseSHA string
	HeadRef string
	HeadSHA string
}

// Comment is a pull request (issue) comment
type Comment struct {
	ID   int64
	Body string
}

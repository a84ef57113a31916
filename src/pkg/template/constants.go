package template

const (
	ToolCommentCategoryToken = "$CATEGORY$"
	ToolCommentSignature     = `<!-- osps-sarifgate: $CATEGORY$ - auto-generated comment, please do not remove -->`
	FileNameSummaryTemplate  = "summary.md.tmpl"
	FileNamePolicyTemplate   = "policy.md.tmpl"
)

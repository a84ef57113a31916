package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gh-nvat/osps-sarifgate/src/pkg/models"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/trace"
	"github.com/open-policy-agent/opa/rego"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var logger = log.WithField("package", "policy")

const (
	POLICY_CONFIG_FILENAME = "policy-config.yaml"
	DEFAULT_QUERY          = "data.main.deny"
)

const (
	POLICY_LEVEL_RECOMMEND = "recommend"
	POLICY_LEVEL_WARNING   = "warning"
	POLICY_LEVEL_BLOCKING  = "blocking"
)

// PolicyEvaluatorInterface evaluates rego policies against SARIF documents
type PolicyEvaluatorInterface interface {
	LoadAndValidate(ctx context.Context) error
	Evaluate(ctx context.Context, input []byte) (map[string][]string, error)
	GeneratePolicyEvalResult(ctx context.Context, artifacts map[string][]byte) (*models.PolicyEvaluation, error)
}

type PolicyEvaluator struct {
	policiesPath string
	config       models.PolicyConfig

	// policy id -> prepared query
	prepared map[string]rego.PreparedEvalQuery
}

// Ensure PolicyEvaluator implements PolicyEvaluatorInterface
var _ PolicyEvaluatorInterface = (*PolicyEvaluator)(nil)

func NewPolicyEvaluator(policiesPath string) *PolicyEvaluator {
	return &PolicyEvaluator{
		policiesPath: policiesPath,
		prepared:     make(map[string]rego.PreparedEvalQuery),
	}
}

// Config returns the loaded policy configuration
func (e *PolicyEvaluator) Config() models.PolicyConfig {
	return e.config
}

// LoadAndValidate loads policy-config.yaml and compiles every policy it lists
func (e *PolicyEvaluator) LoadAndValidate(ctx context.Context) error {
	logger.Info("LoadAndValidate: loading policy configuration...")
	if err := e.loadPolicyConfig(); err != nil {
		return err
	}
	if err := e.validatePolicyConfig(); err != nil {
		return err
	}

	logger.Info("LoadAndValidate: compiling policies...")
	for _, id := range e.config.PolicyIDs {
		policy := e.config.Policies[id]
		policyPath := filepath.Join(e.policiesPath, policy.FilePath)
		src, err := os.ReadFile(policyPath)
		if err != nil {
			return fmt.Errorf("policy %s: failed to read %s: %w", id, policyPath, err)
		}

		query := policy.Query
		if query == "" {
			query = DEFAULT_QUERY
		}
		pq, err := rego.New(
			rego.Query(query),
			rego.Module(policyPath, string(src)),
		).PrepareForEval(ctx)
		if err != nil {
			return fmt.Errorf("policy %s: failed to compile: %w", id, err)
		}
		e.prepared[id] = pq
	}

	logger.Infof("LoadAndValidate: done, loaded %d policies.", len(e.config.PolicyIDs))
	return nil
}

func (e *PolicyEvaluator) loadPolicyConfig() error {
	configPath := filepath.Join(e.policiesPath, POLICY_CONFIG_FILENAME)
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read policy config: %w", err)
	}
	if err := yaml.Unmarshal(data, &e.config); err != nil {
		return fmt.Errorf("failed to parse policy config: %w", err)
	}

	e.config.PolicyIDs = make([]string, 0, len(e.config.Policies))
	for id := range e.config.Policies {
		e.config.PolicyIDs = append(e.config.PolicyIDs, id)
	}
	sort.Strings(e.config.PolicyIDs)
	return nil
}

func (e *PolicyEvaluator) validatePolicyConfig() error {
	if len(e.config.Policies) == 0 {
		return fmt.Errorf("no policies defined in policy config")
	}

	for id, policy := range e.config.Policies {
		if policy.Name == "" {
			return fmt.Errorf("policy %s: name is required", id)
		}
		if policy.FilePath == "" {
			return fmt.Errorf("policy %s: filePath is required", id)
		}
		if !strings.HasSuffix(policy.FilePath, ".rego") {
			return fmt.Errorf("policy %s: unsupported file extension (must be .rego)", id)
		}
		switch policy.Enforcement.Level {
		case POLICY_LEVEL_RECOMMEND, POLICY_LEVEL_WARNING, POLICY_LEVEL_BLOCKING:
		case "":
			return fmt.Errorf("policy %s: enforcement.level is required", id)
		default:
			return fmt.Errorf("policy %s: unknown enforcement level %q", id, policy.Enforcement.Level)
		}
	}
	return nil
}

// Evaluate evaluates every policy against one SARIF document
// returns: policyId -> failure messages
func (e *PolicyEvaluator) Evaluate(ctx context.Context, input []byte) (map[string][]string, error) {
	var doc any
	if err := json.Unmarshal(input, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode policy input: %w", err)
	}

	results := make(map[string][]string)
	for _, id := range e.config.PolicyIDs {
		pq, ok := e.prepared[id]
		if !ok {
			return nil, fmt.Errorf("policy %s: not loaded", id)
		}
		rs, err := pq.Eval(ctx, rego.EvalInput(doc))
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate policy %s: %w", id, err)
		}
		results[id] = denyMessages(rs)
		logger.WithField("policyId", id).WithField("failMsgs", results[id]).Debug("Evaluated policy")
	}
	return results, nil
}

// denyMessages collects the messages of a deny set. Entries are either strings or objects with a msg field.
func denyMessages(rs rego.ResultSet) []string {
	msgs := []string{}
	for _, result := range rs {
		for _, expr := range result.Expressions {
			values, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, v := range values {
				switch m := v.(type) {
				case string:
					msgs = append(msgs, m)
				case map[string]any:
					if msg, ok := m["msg"].(string); ok {
						msgs = append(msgs, msg)
					} else {
						msgs = append(msgs, fmt.Sprint(m))
					}
				default:
					msgs = append(msgs, fmt.Sprint(m))
				}
			}
		}
	}
	sort.Strings(msgs)
	return msgs
}

// GeneratePolicyEvalResult evaluates every artifact and groups the results by enforcement level
func (e *PolicyEvaluator) GeneratePolicyEvalResult(ctx context.Context, artifacts map[string][]byte) (*models.PolicyEvaluation, error) {
	ctx, span := trace.StartSpan(ctx, "PolicyEvaluator.GeneratePolicyEvalResult")
	defer span.End()

	results := &models.PolicyEvaluation{
		ArtifactSummary: make(map[string]models.ArtifactPolicySummary),
		PolicyMatrix:    make(map[string]models.PolicyMatrix),
	}

	for key, input := range artifacts {
		logger.WithField("artifact", key).Info("Evaluating policies for artifact")
		failMsgsByPolicy, err := e.Evaluate(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate policies for artifact %s: %w", key, err)
		}

		matrix := models.PolicyMatrix{
			BlockingPolicies:  []models.PolicyResult{},
			WarningPolicies:   []models.PolicyResult{},
			RecommendPolicies: []models.PolicyResult{},
		}
		counts := models.PolicyCounts{}
		for _, id := range e.config.PolicyIDs {
			policy := e.config.Policies[id]
			failMsgs := failMsgsByPolicy[id]
			result := models.PolicyResult{
				PolicyId:     id,
				PolicyName:   policy.Name,
				ExternalLink: policy.ExternalLink,
				IsPassing:    len(failMsgs) == 0,
				FailMessages: failMsgs,
			}

			counts.TotalCount++
			if result.IsPassing {
				counts.TotalSuccess++
			} else {
				counts.TotalFailed++
			}

			switch policy.Enforcement.Level {
			case POLICY_LEVEL_BLOCKING:
				matrix.BlockingPolicies = append(matrix.BlockingPolicies, result)
				if result.IsPassing {
					counts.BlockingSuccessCount++
				} else {
					counts.BlockingFailedCount++
				}
			case POLICY_LEVEL_WARNING:
				matrix.WarningPolicies = append(matrix.WarningPolicies, result)
				if result.IsPassing {
					counts.WarningSuccessCount++
				} else {
					counts.WarningFailedCount++
				}
			case POLICY_LEVEL_RECOMMEND:
				matrix.RecommendPolicies = append(matrix.RecommendPolicies, result)
				if result.IsPassing {
					counts.RecommendSuccessCount++
				} else {
					counts.RecommendFailedCount++
				}
			}
		}

		results.PolicyMatrix[key] = matrix
		results.ArtifactSummary[key] = models.ArtifactPolicySummary{
			PassingStatus: models.EnforcementPassingStatus{
				PassBlockingCheck:  counts.BlockingFailedCount == 0,
				PassWarningCheck:   counts.WarningFailedCount == 0,
				PassRecommendCheck: counts.RecommendFailedCount == 0,
			},
			PolicyCounts: counts,
		}
	}

	return results, nil
}

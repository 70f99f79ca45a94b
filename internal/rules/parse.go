package rules

import (
	"fmt"
	"net"
	"strings"

	"github.com/John-Robertt/mihomocli/internal/model"
)

type RuleError struct {
	Code    string
	Message string
	Hint    string
	Cause   error
}

func (e *RuleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *RuleError) Unwrap() error { return e.Cause }

// ParseRule parses one Mihomo rule line (TYPE,VALUE,POLICY[,options] or
// MATCH,POLICY). Types it does not model are accepted as long as the field
// count is plausible, because the output is never re-validated here.
func ParseRule(line string) (model.Rule, error) {
	line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
	if line == "" || strings.HasPrefix(line, "#") {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则为空"}
	}
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	typ := strings.ToUpper(parts[0])
	if typ == "" {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则类型不能为空"}
	}

	switch typ {
	case "MATCH", "FINAL":
		if len(parts) != 2 || parts[1] == "" {
			return model.Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: "MATCH 规则必须是 MATCH,<POLICY>",
			}
		}
		return model.Rule{Type: "MATCH", Action: parts[1]}, nil
	case "IP-CIDR", "IP-CIDR6":
		return parseCIDR(typ, parts)
	}

	if len(parts) < 3 {
		return model.Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: "规则缺少 POLICY",
			Hint:    "expected: TYPE,VALUE,POLICY",
		}
	}
	if parts[1] == "" || parts[2] == "" {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则 VALUE/POLICY 不能为空"}
	}
	return model.Rule{Type: typ, Value: parts[1], Action: parts[2]}, nil
}

func parseCIDR(typ string, parts []string) (model.Rule, error) {
	if len(parts) < 3 || len(parts) > 4 {
		return model.Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: typ + " 规则字段数量不合法",
			Hint:    "expected: " + typ + ",CIDR,POLICY[,no-resolve]",
		}
	}
	if parts[2] == "" || strings.EqualFold(parts[2], "no-resolve") {
		return model.Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: typ + " 缺少 POLICY（不允许仅写 no-resolve）",
			Hint:    "expected: " + typ + ",CIDR,POLICY[,no-resolve]",
		}
	}
	if _, _, err := net.ParseCIDR(parts[1]); err != nil {
		return model.Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: typ + " 的 CIDR 不合法",
			Cause:   err,
		}
	}
	r := model.Rule{Type: typ, Value: parts[1], Action: parts[2]}
	if len(parts) == 4 {
		if !strings.EqualFold(parts[3], "no-resolve") {
			return model.Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: typ + " 的可选项仅支持 no-resolve",
			}
		}
		r.NoResolve = true
	}
	return r, nil
}

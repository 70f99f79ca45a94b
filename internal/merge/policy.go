// Package merge folds subscription documents into a template and overlays an
// authoritative base configuration on the result.
package merge

// Policy says how a field of an incoming document combines with the
// accumulated one.
type Policy uint8

const (
	// Append concatenates incoming items after the accumulated ones.
	Append Policy = iota
	// Replace discards the accumulated value in favor of the incoming one.
	Replace
	// TemplateWins keeps the accumulated value and fills it only when absent.
	TemplateWins
	// BaseWins takes the incoming value whenever it is present.
	BaseWins
	// MergeByName matches records by "name" and unions their references.
	MergeByName
	// Keep ignores the incoming value.
	Keep
)

func (p Policy) String() string {
	switch p {
	case Append:
		return "APPEND"
	case Replace:
		return "REPLACE"
	case TemplateWins:
		return "TEMPLATE_WINS"
	case BaseWins:
		return "BASE_WINS"
	case MergeByName:
		return "MERGE_BY_NAME"
	case Keep:
		return "KEEP"
	default:
		return "UNKNOWN"
	}
}

// Policies assigns a Policy to every part of a document.
type Policies struct {
	Ports       Policy
	Proxies     Policy
	ProxyGroups Policy
	Rules       Policy
	Extra       Policy
}

// MergePolicies drive Merge: subscriptions folded into the template.
// Listener ports come from the template only.
var MergePolicies = Policies{
	Ports:       Keep,
	Proxies:     Append,
	ProxyGroups: MergeByName,
	Rules:       Append,
	Extra:       TemplateWins,
}

// OverlayPolicies drive Overlay: the base config laid over the merged result.
var OverlayPolicies = Policies{
	Ports:       BaseWins,
	Proxies:     Keep,
	ProxyGroups: Replace,
	Rules:       Replace,
	Extra:       BaseWins,
}

func mergePort(p Policy, acc, in *int) *int {
	switch p {
	case TemplateWins:
		if acc == nil && in != nil {
			v := *in
			return &v
		}
	case BaseWins, Replace:
		if in != nil {
			v := *in
			return &v
		}
	}
	return acc
}

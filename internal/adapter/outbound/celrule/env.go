package celrule

import (
	"net"
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// newRuleEnvironment builds the CEL environment action rules compile
// against. Rules see the action name and its free-form details map:
//   - action: string, e.g. "sql_injection_test"
//   - details: map<string, dyn>, tool-supplied context (target, url, ...)
//
// Custom functions:
//   - glob(pattern, value): shell-style match, same globs as the
//     contract's action lists
//   - detail(details, key): value at key, or "" when absent, so rules
//     never error on missing context
//   - in_cidr(ip, cidr): IP containment check
//   - domain_matches(domain, pattern): glob match for hostnames
func newRuleEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("action", cel.StringType),
		cel.Variable("details", cel.MapType(cel.StringType, cel.DynType)),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, value ref.Val) ref.Val {
					p, ok1 := pattern.Value().(string)
					v, ok2 := value.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := filepath.Match(p, v)
					return types.Bool(matched)
				}),
			),
		),

		cel.Function("detail",
			cel.Overload("detail_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key, ok := keyVal.Value().(string)
					if !ok {
						return types.String("")
					}
					switch m := mapVal.Value().(type) {
					case map[string]any:
						if v, found := m[key]; found && v != nil {
							return types.DefaultTypeAdapter.NativeToValue(v)
						}
					case map[ref.Val]ref.Val:
						if v, found := m[types.String(key)]; found {
							return v
						}
					}
					return types.String("")
				}),
			),
		),

		cel.Function("in_cidr",
			cel.Overload("in_cidr_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(ipVal, cidrVal ref.Val) ref.Val {
					ipStr, ok1 := ipVal.Value().(string)
					cidrStr, ok2 := cidrVal.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					ip := net.ParseIP(ipStr)
					if ip == nil {
						return types.Bool(false)
					}
					_, network, err := net.ParseCIDR(cidrStr)
					if err != nil {
						return types.Bool(false)
					}
					return types.Bool(network.Contains(ip))
				}),
			),
		),

		cel.Function("domain_matches",
			cel.Overload("domain_matches_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(domainVal, patternVal ref.Val) ref.Val {
					domain, ok1 := domainVal.Value().(string)
					pattern, ok2 := patternVal.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := filepath.Match(pattern, domain)
					return types.Bool(matched)
				}),
			),
		),
	)
}

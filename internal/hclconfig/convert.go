package hclconfig

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
)

// secretFunc implements `secret("NAME")`, producing the same object as the
// literal `{ secret = "NAME" }`.
var secretFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "name", Type: cty.String}},
	Type:   function.StaticReturnType(cty.Object(map[string]cty.Type{"secret": cty.String})),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return cty.ObjectVal(map[string]cty.Value{"secret": args[0]}), nil
	},
})

func newEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Functions: map[string]function.Function{"secret": secretFunc},
	}
}

// isExprDefined reports whether an optional attribute was actually written.
// gohcl fills omitted optional expressions with a zero-width placeholder, so
// a nil check alone is not enough.
func isExprDefined(ctx context.Context, expr hcl.Expression, attrName string) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	defined := r.End.Byte > r.Start.Byte
	ctxlog.FromContext(ctx).Debug("Checking if HCL attribute was explicitly defined.",
		"attribute", attrName,
		"hcl_range", r.String(),
		"is_defined", defined,
	)
	return defined
}

// evalExpr evaluates an optional expression, returning cty.NilVal when it
// was not written.
func evalExpr(ctx context.Context, expr hcl.Expression, evalCtx *hcl.EvalContext, attrName string) (cty.Value, error) {
	if !isExprDefined(ctx, expr, attrName) {
		return cty.NilVal, nil
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("invalid %s: %w", attrName, diags)
	}
	return val, nil
}

func isAbsent(val cty.Value) bool {
	return val.IsNull()
}

// toString converts a primitive value (string, number or bool) to its text.
func toString(val cty.Value) (string, error) {
	if isAbsent(val) {
		return "", nil
	}
	if !val.IsWhollyKnown() {
		return "", fmt.Errorf("value is not known")
	}
	if !val.Type().IsPrimitiveType() {
		return "", fmt.Errorf("expected a string, number or bool, got %s", val.Type().FriendlyName())
	}
	s, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", err
	}
	return s.AsString(), nil
}

// toStringMap converts an object or map of primitives.
func toStringMap(val cty.Value) (map[string]string, error) {
	if isAbsent(val) {
		return nil, nil
	}
	if !val.CanIterateElements() || !(val.Type().IsObjectType() || val.Type().IsMapType()) {
		return nil, fmt.Errorf("expected an object, got %s", val.Type().FriendlyName())
	}
	out := make(map[string]string, val.LengthInt())
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		s, err := toString(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k.AsString(), err)
		}
		out[k.AsString()] = s
	}
	return out, nil
}

// toStringList converts a list or tuple of primitives.
func toStringList(val cty.Value) ([]string, error) {
	if isAbsent(val) {
		return nil, nil
	}
	ty := val.Type()
	if !(ty.IsListType() || ty.IsTupleType() || ty.IsSetType()) {
		return nil, fmt.Errorf("expected a list, got %s", ty.FriendlyName())
	}
	out := make([]string, 0, val.LengthInt())
	for it := val.ElementIterator(); it.Next(); {
		_, v := it.Element()
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// toListMap converts an object whose attributes are lists, as used by
// matrix parameters.
func toListMap(val cty.Value) (map[string][]string, error) {
	if isAbsent(val) {
		return nil, nil
	}
	if !(val.Type().IsObjectType() || val.Type().IsMapType()) {
		return nil, fmt.Errorf("expected an object of lists, got %s", val.Type().FriendlyName())
	}
	out := make(map[string][]string, val.LengthInt())
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		list, err := toStringList(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k.AsString(), err)
		}
		out[k.AsString()] = list
	}
	return out, nil
}

// toMapList converts a list of objects, as used by matrix excludes.
func toMapList(val cty.Value) ([]map[string]string, error) {
	if isAbsent(val) {
		return nil, nil
	}
	ty := val.Type()
	if !(ty.IsListType() || ty.IsTupleType()) {
		return nil, fmt.Errorf("expected a list of objects, got %s", ty.FriendlyName())
	}
	var out []map[string]string
	for it := val.ElementIterator(); it.Next(); {
		i, v := it.Element()
		m, err := toStringMap(v)
		if err != nil {
			idx, _ := i.AsBigFloat().Int64()
			return nil, fmt.Errorf("element %d: %w", idx, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// toEnvValue accepts a primitive literal or a `{ secret = "NAME" }` object.
func toEnvValue(val cty.Value) (config.EnvValue, error) {
	if val.Type().IsObjectType() {
		if !val.Type().HasAttribute("secret") || len(val.Type().AttributeTypes()) != 1 {
			return config.EnvValue{}, fmt.Errorf(`object values must be { secret = "NAME" }`)
		}
		name, err := toString(val.GetAttr("secret"))
		if err != nil {
			return config.EnvValue{}, err
		}
		if name == "" {
			return config.EnvValue{}, fmt.Errorf("secret name cannot be empty")
		}
		return config.SecretRef(name), nil
	}
	s, err := toString(val)
	if err != nil {
		return config.EnvValue{}, err
	}
	return config.Literal(s), nil
}

func toEnvMap(val cty.Value) (map[string]config.EnvValue, error) {
	if isAbsent(val) {
		return nil, nil
	}
	if !(val.Type().IsObjectType() || val.Type().IsMapType()) {
		return nil, fmt.Errorf("expected an object, got %s", val.Type().FriendlyName())
	}
	out := make(map[string]config.EnvValue, val.LengthInt())
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		ev, err := toEnvValue(v)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", k.AsString(), err)
		}
		out[k.AsString()] = ev
	}
	return out, nil
}

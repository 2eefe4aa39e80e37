package config

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/aellingwood/ucimg/internal/cdn"
)

// CaptionSource names where a caption is taken from.
type CaptionSource string

const (
	CaptionTitle CaptionSource = "title"
	CaptionAlt   CaptionSource = "alt"
)

// CaptionOrder lists caption sources in priority order. It decodes from a
// boolean (true means title, then alt) or from a list of source names.
type CaptionOrder []CaptionSource

// Enabled reports whether captions are shown at all.
func (o CaptionOrder) Enabled() bool { return len(o) > 0 }

// CSS is an inline style declaration list. It decodes from a string or from
// a mapping of property to value.
type CSS string

var (
	captionOrderType = reflect.TypeOf(CaptionOrder(nil))
	cssType          = reflect.TypeOf(CSS(""))
	operationsType   = reflect.TypeOf(cdn.Operations(nil))
)

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		captionOrderHook,
		cssHook,
		operationsHook,
		mapstructure.StringToSliceHookFunc(","),
	)
}

func captionOrderHook(from, to reflect.Type, data any) (any, error) {
	if to != captionOrderType {
		return data, nil
	}
	switch v := data.(type) {
	case nil:
		return CaptionOrder(nil), nil
	case bool:
		return captionsFromBool(v), nil
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return captionsFromBool(b), nil
		}
		var order CaptionOrder
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				order = append(order, CaptionSource(part))
			}
		}
		return order, nil
	case []any:
		order := make(CaptionOrder, 0, len(v))
		for _, item := range v {
			order = append(order, CaptionSource(fmt.Sprint(item)))
		}
		return order, nil
	case []string:
		order := make(CaptionOrder, 0, len(v))
		for _, item := range v {
			order = append(order, CaptionSource(item))
		}
		return order, nil
	}
	return data, nil
}

func captionsFromBool(b bool) CaptionOrder {
	if !b {
		return nil
	}
	return CaptionOrder{CaptionTitle, CaptionAlt}
}

func cssHook(from, to reflect.Type, data any) (any, error) {
	if to != cssType {
		return data, nil
	}
	switch v := data.(type) {
	case nil:
		return CSS(""), nil
	case string:
		return CSS(v), nil
	case map[string]any:
		return cssFromMap(v), nil
	}
	return data, nil
}

// cssFromMap renders properties sorted by name so output is stable.
func cssFromMap(m map[string]any) CSS {
	props := make([]string, 0, len(m))
	for k := range m {
		props = append(props, k)
	}
	sort.Strings(props)

	var b strings.Builder
	for _, p := range props {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s: %v;", p, m[p])
	}
	return CSS(b.String())
}

func operationsHook(from, to reflect.Type, data any) (any, error) {
	if to != operationsType {
		return data, nil
	}
	switch v := data.(type) {
	case nil:
		return cdn.Operations(nil), nil
	case map[string]any:
		return cdn.OperationsFromMap(v), nil
	}
	return data, nil
}

package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"staybook/internal/domain"
)

/********** alias registries (single source of truth) **********/

var settingsAliases = map[string][]string{
	"currency":          {"currency", "currency_code"},
	"tiers":             {"commission_tiers", "tiers", "commissiontiers", "commission.tiers"},
	"discounts":         {"volume_discounts", "discounts", "volumediscounts", "commission.volume_discounts"},
	"discount_cap":      {"discount_cap", "max_discount", "discountcap", "commission.discount_cap"},
	"platform_fee":      {"platform_fee", "platformfee", "service_fee", "fees.platform"},
	"local_fee":         {"local_processing_fee", "processing_fee.local", "fees.local_processing", "localprocessingfee"},
	"international_fee": {"international_processing_fee", "processing_fee.international", "fees.international_processing", "internationalprocessingfee"},
	"withdrawal":        {"withdrawal", "withdrawal_fee", "withdrawalfee", "fees.withdrawal"},
	"tax_rate":          {"tax_rate", "taxrate", "vat", "tax"},
	"release_offset":    {"escrow_release_offset_hours", "release_offset_hours", "escrow.release_offset_hours"},
}

var tierAliases = map[string][]string{
	"min":  {"min", "from", "lower", "min_amount"},
	"max":  {"max", "to", "upper", "max_amount"},
	"rate": {"rate", "percent", "percentage", "commission"},
}

var discountAliases = map[string][]string{
	"volume":    {"volume", "threshold", "min_volume", "monthly_volume"},
	"reduction": {"reduction", "rate", "discount", "percent"},
}

var feeAliases = map[string][]string{
	"percent":     {"percent", "percentage", "rate"},
	"fixed":       {"fixed", "flat", "fixed_amount"},
	"cap":         {"cap.amount", "cap", "cap_amount", "max"},
	"cap_trigger": {"cap.trigger", "cap_trigger", "trigger", "cap_threshold"},
	"minimum":     {"minimum", "min", "min_withdrawal", "minimum_withdrawal"},
}

/********** tiny helpers **********/

// lookupAny: nested lookup with dot paths on maps. Keys match case-insensitively
// because config loaders such as viper lowercase them.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := asMap(cur)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			found := false
			for k, vv := range obj {
				if strings.EqualFold(k, part) {
					v, found = vv, true
					break
				}
			}
			if !found {
				return nil
			}
		}
		cur = v
	}
	return cur
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[any]any: // yaml.v2-shaped maps
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[fmt.Sprint(k)] = vv
		}
		return out, true
	}
	return nil, false
}

func firstAlias(m map[string]any, aliases map[string][]string, key string) any {
	for _, p := range aliases[key] {
		if v := lookupAny(m, p); v != nil {
			return v
		}
	}
	return nil
}

// toDecimal accepts float64/int/int64/string numbers; "500,000", "10%" and "1_000" are allowed.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case float64:
		return decimal.NewFromFloat(t), true
	case float32:
		return decimal.NewFromFloat32(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case string:
		s := strings.TrimSpace(t)
		s = strings.NewReplacer(",", "", "_", "", "%", "").Replace(s)
		if s == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

type settingsParser struct{ problems []string }

func (p *settingsParser) fail(format string, args ...any) {
	p.problems = append(p.problems, fmt.Sprintf(format, args...))
}

func (p *settingsParser) dec(m map[string]any, aliases map[string][]string, key, what string) (decimal.Decimal, bool) {
	raw := firstAlias(m, aliases, key)
	if raw == nil {
		return decimal.Zero, false
	}
	d, ok := toDecimal(raw)
	if !ok {
		p.fail("%s: %v is not a number", what, raw)
	}
	return d, ok
}

/********** settings mapper **********/

// ParseSettings turns a loosely-typed settings blob into a validated CommissionConfig.
// Nothing shaped like the raw blob is allowed past this point.
func ParseSettings(raw map[string]any) (domain.CommissionConfig, error) {
	p := &settingsParser{}
	var cfg domain.CommissionConfig

	if s, ok := firstAlias(raw, settingsAliases, "currency").(string); ok {
		cfg.Currency = strings.ToUpper(strings.TrimSpace(s))
	}

	cfg.Tiers = p.tiers(firstAlias(raw, settingsAliases, "tiers"))
	cfg.VolumeDiscounts = p.discounts(firstAlias(raw, settingsAliases, "discounts"))
	cfg.DiscountCap, _ = p.dec(raw, settingsAliases, "discount_cap", "discount cap")
	cfg.PlatformFee = p.fee(firstAlias(raw, settingsAliases, "platform_fee"), "platform fee")
	cfg.LocalProcessingFee = p.fee(firstAlias(raw, settingsAliases, "local_fee"), "local processing fee")
	cfg.InternationalProcessingFee = p.fee(firstAlias(raw, settingsAliases, "international_fee"), "international processing fee")
	cfg.Withdrawal = p.withdrawal(firstAlias(raw, settingsAliases, "withdrawal"))
	cfg.TaxRate, _ = p.dec(raw, settingsAliases, "tax_rate", "tax rate")
	if off, ok := p.dec(raw, settingsAliases, "release_offset", "escrow release offset"); ok {
		cfg.EscrowReleaseOffsetHours = int(off.IntPart())
	}

	if len(p.problems) > 0 {
		return domain.CommissionConfig{}, &domain.ConfigurationError{Problems: p.problems}
	}
	if err := Validate(cfg); err != nil {
		return domain.CommissionConfig{}, err
	}
	return cfg, nil
}

// tiers accepts a list of objects ({min,max,rate} under any alias), a list of
// single-key entries ({"0-500000": 10}, {"500001+": 8}) or a map of the latter.
func (p *settingsParser) tiers(v any) []domain.CommissionTier {
	if v == nil {
		return nil
	}
	var out []domain.CommissionTier
	if m, ok := asMap(v); ok {
		for k, rate := range m {
			if t, ok := p.rangeTier(k, rate); ok {
				out = append(out, t)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Min.LessThan(out[j].Min) })
		return out
	}
	list, ok := v.([]any)
	if !ok {
		p.fail("tiers: unsupported shape %T", v)
		return nil
	}
	for i, it := range list {
		m, ok := asMap(it)
		if !ok {
			p.fail("tier %d: unsupported shape %T", i, it)
			continue
		}
		if firstAlias(m, tierAliases, "rate") == nil && len(m) == 1 {
			for k, rate := range m {
				if t, ok := p.rangeTier(k, rate); ok {
					out = append(out, t)
				}
			}
			continue
		}
		var t domain.CommissionTier
		t.Min, _ = p.dec(m, tierAliases, "min", fmt.Sprintf("tier %d min", i))
		if upper, ok := p.dec(m, tierAliases, "max", fmt.Sprintf("tier %d max", i)); ok {
			t.Max = &upper
		}
		var ok2 bool
		if t.Rate, ok2 = p.dec(m, tierAliases, "rate", fmt.Sprintf("tier %d rate", i)); !ok2 {
			p.fail("tier %d: missing rate", i)
		}
		out = append(out, t)
	}
	return out
}

// rangeTier parses keys like "0-500000", "500001+", "500001-" or "500001-inf".
func (p *settingsParser) rangeTier(key string, rateRaw any) (domain.CommissionTier, bool) {
	rate, ok := toDecimal(rateRaw)
	if !ok {
		p.fail("tier %q: rate %v is not a number", key, rateRaw)
		return domain.CommissionTier{}, false
	}
	k := strings.TrimSpace(key)
	var lo, hi string
	switch {
	case strings.HasSuffix(k, "+"):
		lo = strings.TrimSuffix(k, "+")
	case strings.Contains(k, "-"):
		parts := strings.SplitN(k, "-", 2)
		lo, hi = parts[0], parts[1]
	default:
		p.fail("tier %q: expected a range like 0-500000 or 500001+", key)
		return domain.CommissionTier{}, false
	}
	lower, ok := toDecimal(lo)
	if !ok {
		p.fail("tier %q: bad lower bound", key)
		return domain.CommissionTier{}, false
	}
	t := domain.CommissionTier{Min: lower, Rate: rate}
	hi = strings.ToLower(strings.TrimSpace(hi))
	if hi != "" && hi != "inf" && hi != "infinity" && hi != "*" {
		upper, ok := toDecimal(hi)
		if !ok {
			p.fail("tier %q: bad upper bound", key)
			return domain.CommissionTier{}, false
		}
		t.Max = &upper
	}
	return t, true
}

// discounts accepts a list of objects, a list of single-key {"volume": reduction}
// entries, or a map keyed by volume.
func (p *settingsParser) discounts(v any) []domain.VolumeDiscount {
	if v == nil {
		return nil
	}
	var out []domain.VolumeDiscount
	if m, ok := asMap(v); ok {
		for k, r := range m {
			if d, ok := p.keyedDiscount(k, r); ok {
				out = append(out, d)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Volume.LessThan(out[j].Volume) })
		return out
	}
	list, ok := v.([]any)
	if !ok {
		p.fail("volume discounts: unsupported shape %T", v)
		return nil
	}
	for i, it := range list {
		m, ok := asMap(it)
		if !ok {
			p.fail("volume discount %d: unsupported shape %T", i, it)
			continue
		}
		if firstAlias(m, discountAliases, "volume") == nil && len(m) == 1 {
			for k, r := range m {
				if d, ok := p.keyedDiscount(k, r); ok {
					out = append(out, d)
				}
			}
			continue
		}
		vol, okV := p.dec(m, discountAliases, "volume", fmt.Sprintf("volume discount %d volume", i))
		red, okR := p.dec(m, discountAliases, "reduction", fmt.Sprintf("volume discount %d reduction", i))
		if !okV || !okR {
			p.fail("volume discount %d: needs volume and reduction", i)
			continue
		}
		out = append(out, domain.VolumeDiscount{Volume: vol, Reduction: red})
	}
	return out
}

func (p *settingsParser) keyedDiscount(key string, r any) (domain.VolumeDiscount, bool) {
	vol, ok1 := toDecimal(key)
	red, ok2 := toDecimal(r)
	if !ok1 || !ok2 {
		p.fail("volume discount %q: %v is not a volume/reduction pair", key, r)
		return domain.VolumeDiscount{}, false
	}
	return domain.VolumeDiscount{Volume: vol, Reduction: red}, true
}

// fee accepts {percent, fixed, cap, cap_trigger} or {percent, fixed, cap: {amount, trigger}};
// a bare number is read as a percentage.
func (p *settingsParser) fee(v any, what string) domain.FeeComponent {
	var f domain.FeeComponent
	if v == nil {
		return f
	}
	if d, ok := toDecimal(v); ok {
		f.Percent = d
		return f
	}
	m, ok := asMap(v)
	if !ok {
		p.fail("%s: unsupported shape %T", what, v)
		return f
	}
	f.Percent, _ = p.dec(m, feeAliases, "percent", what+" percent")
	f.Fixed, _ = p.dec(m, feeAliases, "fixed", what+" fixed")
	if amt, ok := p.dec(m, feeAliases, "cap", what+" cap"); ok {
		trig, _ := p.dec(m, feeAliases, "cap_trigger", what+" cap trigger")
		f.Cap = &domain.FeeCap{Trigger: trig, Amount: amt}
	}
	return f
}

func (p *settingsParser) withdrawal(v any) domain.WithdrawalFeeRule {
	var w domain.WithdrawalFeeRule
	m, ok := asMap(v)
	if !ok {
		if v != nil {
			p.fail("withdrawal: unsupported shape %T", v)
		}
		return w
	}
	w.Percent, _ = p.dec(m, feeAliases, "percent", "withdrawal percent")
	w.Cap, _ = p.dec(m, feeAliases, "cap", "withdrawal cap")
	w.Minimum, _ = p.dec(m, feeAliases, "minimum", "withdrawal minimum")
	return w
}

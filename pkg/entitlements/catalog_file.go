package entitlements

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Plans    []catalogFilePlan `yaml:"plans"`
	PriceIDs map[string]string `yaml:"price_ids"`
}

type catalogFilePlan struct {
	Plan          string        `yaml:"plan"`
	MonthlyPrice  int64         `yaml:"monthly_price"`
	MemberCeiling MemberCeiling `yaml:"member_ceiling"`
}

// UnmarshalYAML accepts a non-negative integer or the word "unlimited".
func (c *MemberCeiling) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: member_ceiling must be a scalar", value.Line)
	}
	raw := strings.ToLower(strings.TrimSpace(value.Value))
	if raw == "unlimited" {
		*c = UnlimitedMembers
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fmt.Errorf("line %d: member_ceiling must be a non-negative integer or \"unlimited\", got %q", value.Line, value.Value)
	}
	*c = MemberCeiling(n)
	return nil
}

// LoadCatalogFile reads a YAML catalog:
//
//	plans:
//	  - plan: free
//	    monthly_price: 0
//	    member_ceiling: 1
//	  - plan: enterprise
//	    monthly_price: 200
//	    member_ceiling: unlimited
//	price_ids:
//	  price_123: pro
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes a YAML catalog document. Unknown keys are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f catalogFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog is empty")
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	terms := make([]PlanTerms, 0, len(f.Plans))
	for _, p := range f.Plans {
		tier, ok := ParsePlanTier(p.Plan)
		if !ok {
			return nil, fmt.Errorf("unknown plan tier %q", p.Plan)
		}
		terms = append(terms, PlanTerms{Plan: tier, MonthlyPrice: p.MonthlyPrice, MemberCeiling: p.MemberCeiling})
	}

	priceIDs, err := priceTable(f.PriceIDs)
	if err != nil {
		return nil, err
	}
	return NewCatalog(terms, priceIDs)
}

// ParsePricePlans parses the "price_id=plan,price_id=plan" form used in
// environment configuration.
func ParsePricePlans(raw string) (map[string]PlanTier, error) {
	pairs := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, plan, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("price plan entry %q must be price_id=plan", entry)
		}
		pairs[strings.TrimSpace(id)] = plan
	}
	return priceTable(pairs)
}

func priceTable(raw map[string]string) (map[string]PlanTier, error) {
	out := make(map[string]PlanTier, len(raw))
	for id, name := range raw {
		tier, ok := ParsePlanTier(name)
		if !ok {
			return nil, fmt.Errorf("price id %q maps to unknown plan tier %q", id, name)
		}
		out[id] = tier
	}
	return out, nil
}

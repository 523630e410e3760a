// Package seed loads YAML fixtures describing cost centers, actuals, driver
// statistics, allocation rules and operator accounts into a fresh database.
package seed

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Date is a YYYY-MM-DD calendar date in fixtures.
type Date struct {
	time.Time
}

// UnmarshalYAML parses a YYYY-MM-DD scalar.
func (d *Date) UnmarshalYAML(node *yaml.Node) error {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Time = t
	return nil
}

// Amount is a decimal amount written as a string or number in fixtures.
type Amount struct {
	decimal.Decimal
}

// UnmarshalYAML parses the decimal scalar.
func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	v, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	a.Decimal = v
	return nil
}

// Fixtures is the document root.
type Fixtures struct {
	Roles        []Role        `yaml:"roles"`
	Users        []User        `yaml:"users"`
	CostCenters  []CostCenter  `yaml:"cost_centers"`
	Transactions []Transaction `yaml:"transactions"`
	Statistics   []Statistic   `yaml:"statistics"`
	Rules        []Rule        `yaml:"rules"`
}

// Role groups permissions. A "*" entry expands to every costing permission.
type Role struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// User is an operator account.
type User struct {
	Email string   `yaml:"email"`
	Name  string   `yaml:"name"`
	Roles []string `yaml:"roles"`
}

// CostCenter references its parent by code.
type CostCenter struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Parent      string `yaml:"parent"`
	Description string `yaml:"description"`
}

// Transaction is a cost or revenue posting.
type Transaction struct {
	CostCenter  string `yaml:"cost_center"`
	Category    string `yaml:"category"`
	Type        string `yaml:"type"`
	Amount      Amount `yaml:"amount"`
	Date        Date   `yaml:"date"`
	Reference   string `yaml:"reference"`
	Description string `yaml:"description"`
}

// Statistic is a driver value for a window.
type Statistic struct {
	CostCenter  string `yaml:"cost_center"`
	Metric      string `yaml:"metric"`
	PeriodStart Date   `yaml:"period_start"`
	PeriodEnd   Date   `yaml:"period_end"`
	Value       Amount `yaml:"value"`
}

// Rule is an allocation rule with its targets.
type Rule struct {
	Code          string   `yaml:"code"`
	Name          string   `yaml:"name"`
	Source        string   `yaml:"source"`
	Base          string   `yaml:"base"`
	EffectiveDate Date     `yaml:"effective_date"`
	EndDate       *Date    `yaml:"end_date"`
	Description   string   `yaml:"description"`
	Approve       bool     `yaml:"approve"`
	Targets       []Target `yaml:"targets"`
}

// Target carries either a percentage or a weight.
type Target struct {
	CostCenter string  `yaml:"cost_center"`
	Percentage *Amount `yaml:"percentage"`
	Weight     *Amount `yaml:"weight"`
}

// Load reads fixtures from a file.
func Load(path string) (*Fixtures, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses and checks fixtures.
func Decode(r io.Reader) (*Fixtures, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var fx Fixtures
	if err := dec.Decode(&fx); err != nil {
		if errors.Is(err, io.EOF) {
			return &Fixtures{}, nil
		}
		return nil, fmt.Errorf("seed: decode fixtures: %w", err)
	}
	if err := fx.Validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// Validate checks that every code reference resolves inside the document.
func (f *Fixtures) Validate() error {
	codes := make(map[string]bool, len(f.CostCenters))
	for _, cc := range f.CostCenters {
		if cc.Code == "" {
			return errors.New("seed: cost center code required")
		}
		if codes[cc.Code] {
			return fmt.Errorf("seed: duplicate cost center %s", cc.Code)
		}
		// parents must be listed before their children
		if cc.Parent != "" && !codes[cc.Parent] {
			return fmt.Errorf("seed: cost center %s: unknown parent %s", cc.Code, cc.Parent)
		}
		codes[cc.Code] = true
	}
	for i, tx := range f.Transactions {
		if !codes[tx.CostCenter] {
			return fmt.Errorf("seed: transaction %d: unknown cost center %s", i+1, tx.CostCenter)
		}
	}
	for i, st := range f.Statistics {
		if !codes[st.CostCenter] {
			return fmt.Errorf("seed: statistic %d: unknown cost center %s", i+1, st.CostCenter)
		}
	}
	for _, rule := range f.Rules {
		if !codes[rule.Source] {
			return fmt.Errorf("seed: rule %s: unknown source %s", rule.Code, rule.Source)
		}
		for _, t := range rule.Targets {
			if !codes[t.CostCenter] {
				return fmt.Errorf("seed: rule %s: unknown target %s", rule.Code, t.CostCenter)
			}
		}
	}
	roles := make(map[string]bool, len(f.Roles))
	for _, role := range f.Roles {
		roles[role.Name] = true
	}
	for _, u := range f.Users {
		for _, name := range u.Roles {
			if !roles[name] {
				return fmt.Errorf("seed: user %s: unknown role %s", u.Email, name)
			}
		}
	}
	return nil
}

// Package catalog loads and validates the measure catalog: every scored
// indicator with its component, aggregation method, and polarity.
package catalog

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/thriving-index/internal/model"
)

// Catalog is an indexed, validated collection of measures.
type Catalog struct {
	Measures []model.Measure

	byID        map[string]*model.Measure
	byComponent map[model.Component][]*model.Measure
}

// measureYAML is the on-disk shape; the method arrives as a string and is
// parsed into the typed enum during construction.
type measureYAML struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Component     string `yaml:"component"`
	Method        string `yaml:"method"`
	ValueCol      string `yaml:"value_col"`
	WeightCol     string `yaml:"weight_col"`
	NumerCol      string `yaml:"numer_col"`
	DenomCol      string `yaml:"denom_col"`
	BaseCol       string `yaml:"base_col"`
	LowerIsBetter bool   `yaml:"lower_is_better"`
}

type catalogYAML struct {
	Measures []measureYAML `yaml:"measures"`
}

// Load reads a measures.yaml file. Any unknown method or component, or a
// duplicate measure ID, is a configuration error that fails the load.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	var raw catalogYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "catalog: parse %s", path)
	}
	if len(raw.Measures) == 0 {
		return nil, eris.Errorf("catalog: %s defines no measures", path)
	}

	measures := make([]model.Measure, 0, len(raw.Measures))
	for _, m := range raw.Measures {
		method, err := model.ParseAggMethod(m.Method)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: measure %s", m.ID)
		}
		measures = append(measures, model.Measure{
			ID:            m.ID,
			Name:          m.Name,
			Component:     model.Component(m.Component),
			Method:        method,
			ValueCol:      m.ValueCol,
			WeightCol:     m.WeightCol,
			NumerCol:      m.NumerCol,
			DenomCol:      m.DenomCol,
			BaseCol:       m.BaseCol,
			LowerIsBetter: m.LowerIsBetter,
		})
	}
	return New(measures)
}

// New builds an indexed catalog, validating every measure.
func New(measures []model.Measure) (*Catalog, error) {
	c := &Catalog{
		Measures:    measures,
		byID:        make(map[string]*model.Measure, len(measures)),
		byComponent: make(map[model.Component][]*model.Measure),
	}
	for i := range c.Measures {
		m := &c.Measures[i]
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, eris.Errorf("catalog: duplicate measure id %s", m.ID)
		}
		c.byID[m.ID] = m
		c.byComponent[m.Component] = append(c.byComponent[m.Component], m)
	}
	return c, nil
}

// ByID returns the measure with the given id, or nil.
func (c *Catalog) ByID(id string) *model.Measure {
	return c.byID[id]
}

// ByComponent returns the measures in a component, in catalog order.
func (c *Catalog) ByComponent(comp model.Component) []*model.Measure {
	return c.byComponent[comp]
}

// Default returns the built-in catalog covering all eight components, used
// when no measures.yaml is supplied.
func Default() *Catalog {
	c, err := New(defaultMeasures())
	if err != nil {
		// The built-in set is validated by tests; a failure here is a bug.
		panic(err)
	}
	return c
}

func defaultMeasures() []model.Measure {
	return []model.Measure{
		// Demographics.
		{ID: "population", Name: "Population", Component: model.ComponentDemographics,
			Method: model.AggSum, ValueCol: "population"},
		{ID: "population_growth", Name: "Population growth", Component: model.ComponentDemographics,
			Method: model.AggRatio, NumerCol: "population", BaseCol: "population_base"},
		{ID: "dependency_ratio", Name: "Dependency ratio", Component: model.ComponentDemographics,
			Method: model.AggRatio, NumerCol: "dependents", DenomCol: "working_age", LowerIsBetter: true},
		{ID: "net_migration_rate", Name: "Net migration rate", Component: model.ComponentDemographics,
			Method: model.AggRatio, NumerCol: "net_migrants", DenomCol: "population"},

		// Economic strength.
		{ID: "employment_growth", Name: "Employment growth", Component: model.ComponentEconomic,
			Method: model.AggRatio, NumerCol: "employment", BaseCol: "employment_base"},
		{ID: "per_capita_income", Name: "Per capita income", Component: model.ComponentEconomic,
			Method: model.AggRatio, NumerCol: "total_income", DenomCol: "population"},
		{ID: "poverty_rate", Name: "Poverty rate", Component: model.ComponentEconomic,
			Method: model.AggRatio, NumerCol: "poverty_count", DenomCol: "population", LowerIsBetter: true},
		{ID: "establishment_growth", Name: "Business establishment growth", Component: model.ComponentEconomic,
			Method: model.AggRatio, NumerCol: "establishments", BaseCol: "establishments_base"},

		// Workforce.
		{ID: "labor_force_participation", Name: "Labor force participation", Component: model.ComponentWorkforce,
			Method: model.AggRatio, NumerCol: "labor_force", DenomCol: "working_age"},
		{ID: "unemployment_rate", Name: "Unemployment rate", Component: model.ComponentWorkforce,
			Method: model.AggRatio, NumerCol: "unemployed", DenomCol: "labor_force", LowerIsBetter: true},
		{ID: "avg_wage", Name: "Average annual wage", Component: model.ComponentWorkforce,
			Method: model.AggWeightedMean, ValueCol: "avg_wage", WeightCol: "employment"},

		// Education.
		{ID: "hs_attainment", Name: "High school attainment", Component: model.ComponentEducation,
			Method: model.AggRatio, NumerCol: "hs_grads", DenomCol: "adults_25plus"},
		{ID: "ba_attainment", Name: "Bachelor's attainment", Component: model.ComponentEducation,
			Method: model.AggRatio, NumerCol: "ba_grads", DenomCol: "adults_25plus"},
		{ID: "school_enrollment", Name: "School enrollment rate", Component: model.ComponentEducation,
			Method: model.AggRatio, NumerCol: "enrolled", DenomCol: "school_age"},

		// Infrastructure.
		{ID: "broadband_access", Name: "Broadband access share", Component: model.ComponentInfrastructure,
			Method: model.AggWeightedMean, ValueCol: "broadband_share", WeightCol: "households"},
		{ID: "has_interstate", Name: "Interstate highway presence", Component: model.ComponentInfrastructure,
			Method: model.AggMax, ValueCol: "has_interstate"},
		{ID: "commute_time", Name: "Mean commute time", Component: model.ComponentInfrastructure,
			Method: model.AggWeightedMean, ValueCol: "commute_minutes", WeightCol: "workers", LowerIsBetter: true},

		// Health.
		{ID: "uninsured_rate", Name: "Uninsured share", Component: model.ComponentHealth,
			Method: model.AggRatio, NumerCol: "uninsured", DenomCol: "population", LowerIsBetter: true},
		{ID: "pcp_rate", Name: "Primary care physicians per 100k", Component: model.ComponentHealth,
			Method: model.AggRatio, NumerCol: "pcp_count", DenomCol: "population_100k"},
		{ID: "premature_death_rate", Name: "Premature death rate", Component: model.ComponentHealth,
			Method: model.AggRatio, NumerCol: "premature_deaths", DenomCol: "population_100k", LowerIsBetter: true},

		// Safety.
		{ID: "violent_crime_rate", Name: "Violent crime rate", Component: model.ComponentSafety,
			Method: model.AggRatio, NumerCol: "violent_crimes", DenomCol: "population_100k", LowerIsBetter: true},
		{ID: "property_crime_rate", Name: "Property crime rate", Component: model.ComponentSafety,
			Method: model.AggRatio, NumerCol: "property_crimes", DenomCol: "population_100k", LowerIsBetter: true},

		// Cost of living & taxes.
		{ID: "median_home_value", Name: "Median home value", Component: model.ComponentCostOfLiving,
			Method: model.AggWeightedMean, ValueCol: "median_home_value", WeightCol: "households", LowerIsBetter: true},
		{ID: "state_income_tax", Name: "State income tax rate", Component: model.ComponentCostOfLiving,
			Method: model.AggStatePassthrough, ValueCol: "income_tax_rate", LowerIsBetter: true},
		{ID: "property_tax_rate", Name: "Effective property tax rate", Component: model.ComponentCostOfLiving,
			Method: model.AggRatio, NumerCol: "property_tax_paid", DenomCol: "home_value", LowerIsBetter: true},
	}
}

package taxonomy

import "github.com/jobsignal/archetype-cli/internal/model"

// DefaultRoles is the built-in canonical role taxonomy, used when no rules
// file is configured. Role ids are stable; additions only.
var DefaultRoles = []model.CanonicalRole{
	{ID: "software_engineer", Name: "Software Engineer", Family: "engineering"},
	{ID: "data_scientist", Name: "Data Scientist", Family: "engineering"},
	{ID: "data_engineer", Name: "Data Engineer", Family: "engineering"},
	{ID: "devops_engineer", Name: "DevOps Engineer", Family: "engineering"},
	{ID: "qa_engineer", Name: "QA Engineer", Family: "engineering"},
	{ID: "product_manager", Name: "Product Manager", Family: "product"},
	{ID: "product_designer", Name: "Product Designer", Family: "product"},
	{ID: "accountant", Name: "Accountant", Family: "finance"},
	{ID: "financial_analyst", Name: "Financial Analyst", Family: "finance"},
	{ID: "registered_nurse", Name: "Registered Nurse", Family: "healthcare"},
	{ID: "sales_representative", Name: "Sales Representative", Family: "sales"},
	{ID: "account_executive", Name: "Account Executive", Family: "sales"},
	{ID: "recruiter", Name: "Recruiter", Family: "people"},
	{ID: "hr_generalist", Name: "HR Generalist", Family: "people"},
	{ID: "marketing_manager", Name: "Marketing Manager", Family: "marketing"},
	{ID: "customer_support", Name: "Customer Support Specialist", Family: "support"},
}

// DefaultRules is the built-in mapping rule data. Higher priority wins;
// substring rules carry the bulk of coverage, exact rules pin known exact
// titles, and pattern rules catch structured variants.
var DefaultRules = []model.TitleMappingRule{
	// Engineering
	{Pattern: "software engineer", Kind: model.RuleSubstring, Role: "software_engineer", BaseConfidence: 0.90, Priority: 100},
	{Pattern: "software developer", Kind: model.RuleSubstring, Role: "software_engineer", BaseConfidence: 0.85, Priority: 90},
	{Pattern: `^(backend|back end|frontend|front end|full stack|fullstack) (engineer|developer)`, Kind: model.RulePattern, Role: "software_engineer", BaseConfidence: 0.85, Priority: 90},
	{Pattern: "sde", Kind: model.RuleExact, Role: "software_engineer", BaseConfidence: 0.80, Priority: 80},
	{Pattern: "programmer", Kind: model.RuleSubstring, Role: "software_engineer", BaseConfidence: 0.70, Priority: 50},
	{Pattern: "data scientist", Kind: model.RuleSubstring, Role: "data_scientist", BaseConfidence: 0.92, Priority: 100},
	{Pattern: "machine learning engineer", Kind: model.RuleSubstring, Role: "data_scientist", BaseConfidence: 0.80, Priority: 90},
	{Pattern: "data engineer", Kind: model.RuleSubstring, Role: "data_engineer", BaseConfidence: 0.90, Priority: 100},
	{Pattern: "analytics engineer", Kind: model.RuleSubstring, Role: "data_engineer", BaseConfidence: 0.75, Priority: 80},
	{Pattern: "devops", Kind: model.RuleSubstring, Role: "devops_engineer", BaseConfidence: 0.88, Priority: 100},
	{Pattern: "site reliability engineer", Kind: model.RuleSubstring, Role: "devops_engineer", BaseConfidence: 0.85, Priority: 95},
	{Pattern: "sre", Kind: model.RuleExact, Role: "devops_engineer", BaseConfidence: 0.80, Priority: 85},
	{Pattern: "qa engineer", Kind: model.RuleSubstring, Role: "qa_engineer", BaseConfidence: 0.88, Priority: 100},
	{Pattern: "quality assurance", Kind: model.RuleSubstring, Role: "qa_engineer", BaseConfidence: 0.82, Priority: 90},
	{Pattern: "test engineer", Kind: model.RuleSubstring, Role: "qa_engineer", BaseConfidence: 0.75, Priority: 80},

	// Product
	{Pattern: "product manager", Kind: model.RuleSubstring, Role: "product_manager", BaseConfidence: 0.90, Priority: 100},
	{Pattern: "product owner", Kind: model.RuleSubstring, Role: "product_manager", BaseConfidence: 0.78, Priority: 85},
	{Pattern: "product designer", Kind: model.RuleSubstring, Role: "product_designer", BaseConfidence: 0.88, Priority: 100},
	{Pattern: "ux designer", Kind: model.RuleSubstring, Role: "product_designer", BaseConfidence: 0.85, Priority: 95},

	// Finance
	{Pattern: "accountant", Kind: model.RuleSubstring, Role: "accountant", BaseConfidence: 0.90, Priority: 100},
	{Pattern: "accounting specialist", Kind: model.RuleSubstring, Role: "accountant", BaseConfidence: 0.78, Priority: 85},
	{Pattern: "financial analyst", Kind: model.RuleSubstring, Role: "financial_analyst", BaseConfidence: 0.90, Priority: 100},
	{Pattern: "finance analyst", Kind: model.RuleSubstring, Role: "financial_analyst", BaseConfidence: 0.85, Priority: 95},

	// Healthcare
	{Pattern: "registered nurse", Kind: model.RuleSubstring, Role: "registered_nurse", BaseConfidence: 0.95, Priority: 100},
	{Pattern: "rn", Kind: model.RuleExact, Role: "registered_nurse", BaseConfidence: 0.85, Priority: 90},

	// Sales
	{Pattern: "account executive", Kind: model.RuleSubstring, Role: "account_executive", BaseConfidence: 0.90, Priority: 100},
	{Pattern: "sales representative", Kind: model.RuleSubstring, Role: "sales_representative", BaseConfidence: 0.90, Priority: 100},
	{Pattern: "sales rep", Kind: model.RuleSubstring, Role: "sales_representative", BaseConfidence: 0.85, Priority: 95},
	{Pattern: `sales (development|dev) rep`, Kind: model.RulePattern, Role: "sales_representative", BaseConfidence: 0.80, Priority: 90, Seniority: model.SeniorityEntry},

	// People
	{Pattern: "recruiter", Kind: model.RuleSubstring, Role: "recruiter", BaseConfidence: 0.90, Priority: 100},
	{Pattern: "talent acquisition", Kind: model.RuleSubstring, Role: "recruiter", BaseConfidence: 0.80, Priority: 90},
	{Pattern: "hr generalist", Kind: model.RuleSubstring, Role: "hr_generalist", BaseConfidence: 0.90, Priority: 100},
	{Pattern: "human resources generalist", Kind: model.RuleSubstring, Role: "hr_generalist", BaseConfidence: 0.88, Priority: 95},

	// Marketing
	{Pattern: "marketing manager", Kind: model.RuleSubstring, Role: "marketing_manager", BaseConfidence: 0.90, Priority: 100},

	// Support
	{Pattern: "customer support", Kind: model.RuleSubstring, Role: "customer_support", BaseConfidence: 0.88, Priority: 100},
	{Pattern: "customer service representative", Kind: model.RuleSubstring, Role: "customer_support", BaseConfidence: 0.85, Priority: 95},
}

// DefaultRuleSetVersion identifies the built-in rule set.
const DefaultRuleSetVersion = "builtin-2025.08"

// DefaultRuleSet compiles the built-in taxonomy.
func DefaultRuleSet(opts ...Option) (*RuleSet, error) {
	return Compile(DefaultRuleSetVersion, DefaultRoles, DefaultRules, opts...)
}

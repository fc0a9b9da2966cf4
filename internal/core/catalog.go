package core

// catalog is the fixed set of platforms Fathom can talk to.
var catalog = map[ProviderKey]Provider{
	ProviderGoogleAnalytics: {
		Key:         ProviderGoogleAnalytics,
		Name:        "Google Analytics",
		Description: "Website traffic and engagement metrics from GA4 properties",
		AuthKind:    AuthOAuth,
		Category:    "analytics",
	},
	ProviderGoogleAds: {
		Key:         ProviderGoogleAds,
		Name:        "Google Ads",
		Description: "Search and display advertising performance",
		AuthKind:    AuthOAuth,
		Category:    "advertising",
	},
	ProviderFacebookAds: {
		Key:         ProviderFacebookAds,
		Name:        "Facebook Ads",
		Description: "Meta advertising spend and campaign performance",
		AuthKind:    AuthOAuth,
		Category:    "advertising",
	},
	ProviderQuickBooks: {
		Key:         ProviderQuickBooks,
		Name:        "QuickBooks",
		Description: "Accounting reports: cash flow, profit and loss, balance sheet",
		AuthKind:    AuthOAuth,
		Category:    "accounting",
	},
	ProviderStripe: {
		Key:         ProviderStripe,
		Name:        "Stripe",
		Description: "Payment volume, charges and payouts",
		AuthKind:    AuthAPIKey,
		Category:    "payments",
	},
	ProviderShopify: {
		Key:         ProviderShopify,
		Name:        "Shopify",
		Description: "Store orders, customers and products",
		AuthKind:    AuthOAuth,
		Category:    "commerce",
	},
	ProviderSalesforce: {
		Key:         ProviderSalesforce,
		Name:        "Salesforce",
		Description: "CRM pipeline and account data",
		AuthKind:    AuthOAuth,
		Category:    "crm",
	},
	ProviderHubspot: {
		Key:         ProviderHubspot,
		Name:        "HubSpot",
		Description: "Marketing contacts and deal pipeline",
		AuthKind:    AuthOAuth,
		Category:    "crm",
	},
	ProviderMailchimp: {
		Key:         ProviderMailchimp,
		Name:        "Mailchimp",
		Description: "Email campaign audience and performance",
		AuthKind:    AuthOAuth,
		Category:    "email",
	},
}

// CatalogEntry returns metadata for a provider key.
func CatalogEntry(key ProviderKey) (Provider, bool) {
	p, ok := catalog[key]
	return p, ok
}

// Catalog returns the full provider catalog in enumeration order.
func Catalog() []Provider {
	out := make([]Provider, 0, len(catalog))
	for _, key := range AllProviders() {
		out = append(out, catalog[key])
	}
	return out
}

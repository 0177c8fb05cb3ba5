package auth

import (
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	"google.golang.org/api/tasks/v1"
)

// DefaultTenant accepts personal and work Microsoft accounts.
const DefaultTenant = "common"

// MicrosoftConfig returns the OAuth client of the Microsoft To Do provider.
func MicrosoftConfig(clientID, tenant, redirectURL string) Config {
	if tenant == "" {
		tenant = DefaultTenant
	}
	return Config{
		Provider:    "microsoft",
		ClientID:    clientID,
		Endpoint:    microsoft.AzureADEndpoint(tenant),
		RedirectURL: redirectURL,
		Scopes:      []string{"offline_access", "Tasks.ReadWrite", "User.Read"},
	}
}

// GoogleConfig returns the OAuth client of the Google Tasks provider.
func GoogleConfig(clientID, clientSecret, redirectURL string) Config {
	return Config{
		Provider:     "google",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       []string{tasks.TasksScope},
	}
}

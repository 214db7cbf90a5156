package rest

import "strconv"

// APIVersion is the REST api version used when none is configured
var APIVersion = "10"

// DefaultAPIURL is the REST api root without the version
const DefaultAPIURL = "https://discord.com/api"

// EndpointAPI returns the versioned api base url for apiURL
func EndpointAPI(apiURL, version string) string {
	for len(apiURL) > 0 && apiURL[len(apiURL)-1] == '/' {
		apiURL = apiURL[:len(apiURL)-1]
	}
	return apiURL + "/v" + version
}

// Paths relative to the versioned api base url
var (
	EndpointGatewayBot = "/gateway/bot"

	EndpointApplicationNonOauth2 = func(aID int64) string { return "/applications/" + StrID(aID) }
	EndpointApplicationCommands  = func(aID int64) string { return EndpointApplicationNonOauth2(aID) + "/commands" }
	EndpointApplicationCommand   = func(aID int64, cmdID int64) string {
		return EndpointApplicationCommands(aID) + "/" + StrID(cmdID)
	}

	EndpointApplicationGuildCommands = func(aID int64, gID int64) string {
		return EndpointApplicationNonOauth2(aID) + "/guilds/" + StrID(gID) + "/commands"
	}

	EndpointInteractionCallback = func(interactionID int64, token string) string {
		return "/interactions/" + StrID(interactionID) + "/" + token + "/callback"
	}
)

// StrID formats an id the way the api expects it in paths
func StrID(id int64) string {
	return strconv.FormatInt(id, 10)
}

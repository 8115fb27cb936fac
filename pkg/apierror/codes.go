package apierror

// codeDetail is one entry of the taxonomy table: the message template and,
// for some codes, a remediation hint shown to the caller.
type codeDetail struct {
	message     string
	remediation string
}

// Subsystem ranges. A code's range identifies the subsystem that produced
// it; communication failures are distinguished from business-logic failures
// by range alone, they follow the same propagation path.
const (
	RangeGenericStart   = 999
	RangeGenericEnd     = 1099
	RangeConfigStart    = 1100
	RangeConfigEnd      = 1199
	RangeRulesStart     = 1200
	RangeRulesEnd       = 1299
	RangeStatsStart     = 1300
	RangeStatsEnd       = 1399
	RangeParamsStart    = 1400
	RangeParamsEnd      = 1499
	RangeDecodersStart  = 1500
	RangeDecodersEnd    = 1599
	RangeIntegrityStart = 1600
	RangeIntegrityEnd   = 1699
	RangeAgentsStart    = 1700
	RangeAgentsEnd      = 1799
	RangeListsStart     = 1800
	RangeListsEnd       = 1899
	RangeManagerStart   = 1900
	RangeManagerEnd     = 1999
	RangeDataStoreStart = 2000
	RangeDataStoreEnd   = 2099
	RangeClusterStart   = 3000
	RangeClusterEnd     = 3099
	RangeSecurityStart  = 4000
	RangeSecurityEnd    = 4099
)

// Commonly referenced codes. The full table lives in codeTable; these
// constants exist for the codes the dispatch core itself raises.
const (
	CodeInternal            = 1000
	CodeInvalidOffset       = 1400
	CodeInvalidLimit        = 1401
	CodeInvalidSortOrder    = 1402
	CodeInvalidSortField    = 1403
	CodeAgentNotFound       = 1701
	CodeNodeNotFound        = 1730
	CodeDispatchFailed      = 3009
	CodeClusterNotRunning   = 3012
	CodeClusterDisabled     = 3013
	CodeSendFailed          = 3018
	CodeSendTimeout         = 3020
	CodeDispatchTimeout     = 3021
	CodeUnknownNode         = 3022
	CodeWorkerNotConnected  = 3023
	CodeTopologyUnavailable = 3024
	CodePermissionDenied    = 4000
)

// codeTable maps every taxonomy code to its template. Codes are grouped by
// subsystem range; gaps inside a range are reserved.
var codeTable = map[int]codeDetail{
	// Generic / internal: 999 - 1099
	999:  {message: "Incompatible runtime version"},
	1000: {message: "Internal manager error"},
	1001: {message: "Error loading module"},
	1002: {message: "Error executing command"},
	1003: {message: "Command output not in JSON"},
	1004: {message: "Malformed command output"},
	1005: {message: "Error reading file"},
	1006: {message: "File or directory does not exist"},
	1010: {message: "Unable to connect to queue"},
	1011: {message: "Error communicating with queue"},
	1012: {message: "Invalid message to queue"},
	1013: {message: "Unable to connect with socket"},
	1014: {message: "Error communicating with socket"},
	1015: {message: "Agent version is null. Was the agent ever connected?"},
	1016: {message: "Error moving file"},

	// Configuration: 1100 - 1199
	1100: {message: "Error checking configuration"},
	1101: {message: "Error getting configuration"},
	1102: {message: "Invalid section"},
	1103: {message: "Invalid field in section"},
	1104: {message: "Invalid type"},
	1105: {message: "Error reading API configuration"},
	1106: {message: "Requested section not present in configuration"},
	1112: {message: "Empty configuration files are not supported"},
	1113: {message: "Configuration syntax error"},
	1115: {message: "Error validating configuration"},

	// Rules: 1200 - 1299
	1200: {message: "Error reading rules from manager configuration"},
	1201: {message: "Error reading rule files"},
	1202: {message: "Argument 'status' must be: enabled, disabled or all"},
	1203: {message: "Argument 'level' must be a number or an interval separated by '-'"},
	1204: {message: "Operation not implemented"},

	// Statistics: 1300 - 1399
	1307: {message: "Invalid parameters"},
	1308: {message: "Stats file has not been created yet"},
	1309: {message: "Statistics file damaged"},

	// Request-parameter validation: 1400 - 1499
	1400: {message: "Invalid offset"},
	1401: {message: "Invalid limit"},
	1402: {message: "Invalid order. Order must be 'asc' or 'desc'"},
	1403: {message: "Sort field invalid"},
	1404: {message: "A field must be specified to order the data"},
	1405: {message: "Specified limit exceeds maximum allowed"},
	1406: {message: "0 is not a valid limit"},
	1407: {message: "Query does not match expected format"},
	1408: {message: "Field does not exist"},
	1409: {message: "Invalid query operator"},

	// Decoders: 1500 - 1599
	1500: {message: "Error reading decoders from manager configuration"},
	1501: {message: "Error reading decoder files"},

	// Integrity monitoring / active response: 1600 - 1699
	1600: {
		message:     "There is no database for selected agent with id",
		remediation: "Upgrade the agent to a supported version and let it reconnect to the manager",
	},
	1601: {
		message:     "Could not restart integrity scan locally",
		remediation: "Ensure the manager installation path and file permissions are correct",
	},
	1603: {message: "Invalid status. Valid statuses are: all, solved and outstanding"},
	1604: {
		message:     "Impossible to run integrity scan, agent is not active",
		remediation: "Ensure the selected agent is active and connected to the manager",
	},
	1650: {message: "Active response - Bad arguments"},
	1651: {message: "Active response - Agent is not active"},
	1652: {message: "Active response - Unable to run command"},
	1653: {message: "Active response - Agent not available"},

	// Agent lifecycle: 1700 - 1799
	1700: {message: "Bad arguments. Accepted arguments: [id] or [name and ip]"},
	1701: {message: "Agent does not exist"},
	1702: {message: "Unable to restart agent(s)"},
	1703: {message: "Action not available for the manager agent"},
	1704: {message: "Unable to load requested info from agent db"},
	1705: {message: "There is an agent with the same name"},
	1706: {message: "There is an agent with the same IP"},
	1707: {message: "Impossible to restart agent because it is not active"},
	1710: {message: "The group does not exist"},
	1711: {message: "The group already exists"},
	1712: {message: "Default group is not removable"},
	1724: {
		message:     "Not a valid select field",
		remediation: "Use only allowed select fields",
	},
	1728: {message: "Invalid node type"},
	1729: {message: "Agent status not valid. Valid statuses are active, disconnected, pending and never_connected"},
	1730: {message: "Node does not exist"},
	1731: {message: "Agent is not eligible for removal"},
	1732: {message: "No agents selected"},
	1740: {message: "Action only available for active agents"},

	// List formats: 1800 - 1899
	1800: {message: "Bad format in list {path}"},
	1801: {message: "'path' parameter is wrong"},

	// Manager operations: 1900 - 1999
	1900: {message: "Error restarting manager"},
	1901: {message: "Control socket has not been created"},
	1902: {message: "Could not connect to control socket"},
	1903: {message: "Error deleting temporary file from API"},
	1905: {message: "File was not updated because it already exists"},
	1906: {message: "File does not exist"},
	1907: {message: "File could not be deleted"},

	// Data store: 2000 - 2099
	2000: {message: "No such database file"},
	2001: {message: "Incompatible database version"},
	2002: {message: "Maximum attempts exceeded executing database request"},
	2003: {message: "Error in database request"},
	2004: {message: "Database query not valid"},
	2007: {message: "Error retrieving data from the data store"},

	// Cluster: 3000 - 3099
	3000: {message: "Cluster error"},
	3004: {message: "Error in cluster configuration"},
	3006: {message: "Error reading cluster configuration"},
	3009: {message: "Error executing distributed API request"},
	3012: {message: "Cluster is not running"},
	3013: {
		message:     "Cluster is disabled in the manager configuration",
		remediation: "Enable the cluster section of the manager configuration to use distributed requests",
	},
	3016: {message: "Received an error response"},
	3017: {message: "The agent is not reporting to any manager"},
	3018: {message: "Error sending request"},
	3019: {message: "{command} is not available in worker nodes. Try again on the master node: {master}"},
	3020: {message: "Timeout sending request"},
	3021: {message: "Timeout executing API request"},
	3022: {message: "Unknown node ID"},
	3023: {message: "Worker node is not connected to master"},
	3024: {message: "Cluster topology is unavailable"},

	// Security / RBAC: 4000 - 4099
	4000: {
		message:     "Permission denied",
		remediation: "Ensure the authenticated subject holds a role granting this action",
	},
	4001: {message: "Error parsing authorization policy"},
}

// Template returns the message template and remediation registered for a
// code. ok is false for codes outside the taxonomy.
func Template(code int) (message, remediation string, ok bool) {
	d, ok := codeTable[code]
	return d.message, d.remediation, ok
}

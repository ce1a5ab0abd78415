package signature

// DefaultSignatures returns the built-in probe set. Order matters: cheap
// path checks come first and the first hit wins.
func DefaultSignatures() []Signature {
	return []Signature{
		// dotfiles and VCS metadata
		{Name: "dotenv-probe", Kind: PathPrefix, Pattern: "/.env"},
		{Name: "git-metadata", Kind: PathPrefix, Pattern: "/.git/"},
		{Name: "git-config", Kind: ExactPath, Pattern: "/.git"},
		{Name: "svn-metadata", Kind: PathPrefix, Pattern: "/.svn/"},
		{Name: "htaccess-probe", Kind: ExactPath, Pattern: "/.htaccess"},
		{Name: "htpasswd-probe", Kind: ExactPath, Pattern: "/.htpasswd"},
		{Name: "ds-store-probe", Kind: ExactPath, Pattern: "/.DS_Store"},
		{Name: "aws-credentials", Kind: Contains, Pattern: "/.aws/credentials"},

		// CMS and admin panels
		{Name: "wordpress-login", Kind: ExactPath, Pattern: "/wp-login.php"},
		{Name: "wordpress-admin", Kind: PathPrefix, Pattern: "/wp-admin"},
		{Name: "wordpress-xmlrpc", Kind: ExactPath, Pattern: "/xmlrpc.php"},
		{Name: "wordpress-content", Kind: PathPrefix, Pattern: "/wp-content/plugins/"},
		{Name: "phpmyadmin-probe", Kind: Regex, Pattern: `(?i)^/(php-?my-?admin|pma|myadmin)(/|$)`},
		{Name: "php-info", Kind: Regex, Pattern: `(?i)/(php)?info\.php$`},
		{Name: "cgi-bin-probe", Kind: PathPrefix, Pattern: "/cgi-bin/"},
		{Name: "server-status", Kind: ExactPath, Pattern: "/server-status"},
		{Name: "actuator-probe", Kind: PathPrefix, Pattern: "/actuator/"},
		{Name: "backup-archive", Kind: Regex, Pattern: `(?i)\.(bak|old|orig|swp|sql)$`},

		// traversal and file inclusion
		{Name: "encoded-traversal", Kind: Regex, Pattern: `(?i)%2e%2e(%2f|%5c|/)`},
		{Name: "path-traversal", Kind: Contains, Pattern: "../"},
		{Name: "path-traversal-backslash", Kind: Contains, Pattern: `..\`},
		{Name: "etc-passwd", Kind: Contains, Pattern: "/etc/passwd"},
		{Name: "windows-ini", Kind: Contains, Pattern: "win.ini"},
		{Name: "php-wrapper", Kind: Regex, Pattern: `(?i)(php|expect|zip|phar)://`},
		{Name: "null-byte", Kind: Contains, Pattern: "\x00"},

		// script injection
		{Name: "script-tag", Kind: Contains, Pattern: "<script"},
		{Name: "javascript-uri", Kind: Contains, Pattern: "javascript:"},
		{Name: "event-handler", Kind: Regex, Pattern: `(?i)<[^>]+\bon[a-z]+\s*=`},
		{Name: "iframe-tag", Kind: Contains, Pattern: "<iframe"},
		{Name: "svg-onload", Kind: Regex, Pattern: `(?i)<svg[^>]*onload`},

		// SQL probes
		{Name: "sql-union-select", Kind: Regex, Pattern: `(?i)\bunion(\s|\+|/\*.*?\*/)+(all(\s|\+)+)?select\b`},
		{Name: "sql-drop", Kind: Regex, Pattern: `(?i)\bdrop(\s|\+)+(table|database)\b`},
		{Name: "sql-tautology", Kind: Regex, Pattern: `(?i)['"](\s|\+)*or(\s|\+)+['"]?\d+['"]?(\s|\+)*=(\s|\+)*['"]?\d+`},
		{Name: "sql-sleep", Kind: Regex, Pattern: `(?i)\b(waitfor(\s|\+)+delay|sleep\s*\(\s*\d+\s*\)|benchmark\s*\()`},
		{Name: "sql-comment-terminator", Kind: Regex, Pattern: `(?i)'(\s|\+)*(--|#|;)`},

		// command injection
		{Name: "shell-substitution", Kind: Regex, Pattern: `(\$\(|\x60)[^)\x60]*(id|whoami|uname|cat|wget|curl)`},
		{Name: "log4shell", Kind: Contains, Pattern: "${jndi:"},
		{Name: "log4shell-header", Kind: HeaderContains, Header: "User-Agent", Pattern: "${jndi:"},

		// scanner user agents
		{Name: "scanner-sqlmap", Kind: HeaderContains, Header: "User-Agent", Pattern: "sqlmap"},
		{Name: "scanner-nikto", Kind: HeaderContains, Header: "User-Agent", Pattern: "nikto"},
		{Name: "scanner-nmap", Kind: HeaderContains, Header: "User-Agent", Pattern: "nmap"},
		{Name: "scanner-masscan", Kind: HeaderContains, Header: "User-Agent", Pattern: "masscan"},
		{Name: "scanner-zgrab", Kind: HeaderContains, Header: "User-Agent", Pattern: "zgrab"},
		{Name: "scanner-nuclei", Kind: HeaderContains, Header: "User-Agent", Pattern: "nuclei"},
		{Name: "scanner-dirbuster", Kind: HeaderRegex, Header: "User-Agent", Pattern: `(?i)(dirbuster|gobuster|wfuzz|ffuf)`},
		{Name: "shellshock", Kind: HeaderRegex, Header: "User-Agent", Pattern: `\(\)\s*\{\s*:;\s*\}`},

		// malformed headers
		{Name: "oversized-header", Kind: HeaderTooLong, MaxLen: 8192},
		{Name: "oversized-user-agent", Kind: HeaderTooLong, Header: "User-Agent", MaxLen: 1024},
		{Name: "header-control-chars", Kind: HeaderControlChars},
	}
}

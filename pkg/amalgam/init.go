package amalgam

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/umputun/sqlwasm/pkg/config"
)

// initTmpl renders SQLITE_EXTRA_INIT function. sqlite calls it once from sqlite3_initialize,
// every registered init function then runs for each new connection.
var initTmpl = template.Must(template.New("init").Parse(`
int {{.Name}}(const char* dummy)
{
    int nErr = 0;
{{- range .Inits}}
    nErr += sqlite3_auto_extension((void*){{.}});
{{- end}}
    return nErr ? SQLITE_ERROR : SQLITE_OK;
}
`))

// RenderInit makes C source of the init function registering inits as auto extensions, in the given order.
// The function returns SQLITE_ERROR if any registration failed, SQLITE_OK otherwise.
func RenderInit(name string, inits []string) (string, error) {
	if !config.IsCIdent(name) {
		return "", fmt.Errorf("invalid init function name %q", name)
	}
	for _, fn := range inits {
		if !config.IsCIdent(fn) {
			return "", fmt.Errorf("invalid extension init function name %q", fn)
		}
	}
	var buf bytes.Buffer
	err := initTmpl.Execute(&buf, struct {
		Name  string
		Inits []string
	}{Name: name, Inits: inits})
	if err != nil {
		return "", fmt.Errorf("can't render init function: %w", err)
	}
	return buf.String(), nil
}

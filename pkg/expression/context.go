package expression

import "github.com/dukex/flowline/pkg/models"

// TriggerNamespace holds the parameters extracted by a trigger.
const TriggerNamespace = "trigger"

// Context exposes named variables to expressions. Parameters live under a
// namespace (trigger.branch); roots are bare top-level names (header, body).
type Context struct {
	namespaces map[string]map[string]models.Parameter
	roots      map[string]any
}

func NewContext() *Context {
	return &Context{
		namespaces: make(map[string]map[string]models.Parameter),
		roots:      make(map[string]any),
	}
}

// Add binds name inside namespace.
func (c *Context) Add(namespace, name string, param models.Parameter) {
	vars, ok := c.namespaces[namespace]
	if !ok {
		vars = make(map[string]models.Parameter)
		c.namespaces[namespace] = vars
	}

	vars[name] = param
}

// Get returns the parameter bound to namespace.name.
func (c *Context) Get(namespace, name string) (models.Parameter, bool) {
	param, ok := c.namespaces[namespace][name]

	return param, ok
}

// SetRoot binds a top-level name. Namespaces win over roots of the same name.
func (c *Context) SetRoot(name string, value any) {
	c.roots[name] = value
}

// WithPayload exposes the normalized request payload as header, query and body roots.
func (c *Context) WithPayload(payload *models.Payload) *Context {
	if payload == nil {
		return c
	}

	for name, value := range payload.Document() {
		c.SetRoot(name, value)
	}

	return c
}

// FromTriggerEvent builds a context holding the event's parameters under trigger.
func FromTriggerEvent(event *models.TriggerEvent) *Context {
	c := NewContext()
	for _, p := range event.Parameters {
		c.Add(TriggerNamespace, p.Name, p.Parameter())
	}

	return c
}

func (c *Context) env() map[string]any {
	env := make(map[string]any, len(c.roots)+len(c.namespaces))
	for name, value := range c.roots {
		env[name] = value
	}

	for namespace, vars := range c.namespaces {
		values := make(map[string]any, len(vars))
		for name, param := range vars {
			values[name] = param.Value
		}

		env[namespace] = values
	}

	return env
}

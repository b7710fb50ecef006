package activities

import (
	"time"

	"github.com/rendis/waypoint/internal/binding"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

const (
	categoryPrimitives  = "Primitives"
	categoryControlFlow = "Control Flow"
	categoryFlow        = "Flow"
	categoryHTTP        = "HTTP"
	categoryTriggers    = "Triggers"
	categoryComposition = "Composition"
)

// Builtins returns the descriptors of the built-in activity types.
func Builtins() []Descriptor {
	return []Descriptor{
		{
			Type: TypeWriteLine, DisplayName: "Write Line", Category: categoryPrimitives,
			Description: "Write a line of text to the output writer.",
			Inputs:      []PropertyDescriptor{{Name: "text", Type: schema.TypeString, Required: true}},
			Construct: func(c *ConstructContext) (engine.Activity, error) {
				text, err := InputOf[string](c, "text")
				if err != nil {
					return nil, err
				}
				return &WriteLine{Node: c.Node(), Text: text}, nil
			},
		},
		{
			Type: TypeSetVariable, DisplayName: "Set Variable", Category: categoryPrimitives,
			Description: "Assign a value to a workflow variable. Config: {\"variable\": name}.",
			Inputs:      []PropertyDescriptor{{Name: "value", Type: schema.TypeAny}},
			Construct: func(c *ConstructContext) (engine.Activity, error) {
				var cfg struct {
					Variable string `json:"variable"`
				}
				if err := c.Config(&cfg); err != nil {
					return nil, err
				}
				value, err := InputOf[any](c, "value")
				if err != nil {
					return nil, err
				}
				return &SetVariable{Node: c.Node(), Variable: cfg.Variable, Value: value}, nil
			},
		},
		{
			Type: TypeFault, Category: categoryPrimitives,
			Description: "Fault the current branch with a message. Config: {\"code\": error code}.",
			Inputs:      []PropertyDescriptor{{Name: "message", Type: schema.TypeString, Required: true}},
			Construct: func(c *ConstructContext) (engine.Activity, error) {
				var cfg struct {
					Code string `json:"code"`
				}
				if err := c.Config(&cfg); err != nil {
					return nil, err
				}
				msg, err := InputOf[string](c, "message")
				if err != nil {
					return nil, err
				}
				return &Fault{Node: c.Node(), Code: cfg.Code, Message: msg}, nil
			},
		},
		{
			Type: TypeOutcome, Category: categoryFlow,
			Description: "Complete with a named outcome. Config: {\"outcomes\": [declared outcomes]}.",
			Inputs:      []PropertyDescriptor{{Name: "outcome", Type: schema.TypeString, Required: true}},
			Construct: func(c *ConstructContext) (engine.Activity, error) {
				var cfg struct {
					Outcomes []string `json:"outcomes"`
				}
				if err := c.Config(&cfg); err != nil {
					return nil, err
				}
				out, err := InputOf[string](c, "outcome")
				if err != nil {
					return nil, err
				}
				return &Outcome{Node: c.Node(), Declared: cfg.Outcomes, Value: out}, nil
			},
		},
		{
			Type: TypeSendHTTPRequest, DisplayName: "Send HTTP Request", Category: categoryHTTP,
			Description: "Send an HTTP request. Config: {\"expected_status_codes\", \"timeout\", \"retry\", \"max_response_body\"}.",
			Inputs: []PropertyDescriptor{
				{Name: "method", Type: schema.TypeString},
				{Name: "url", Type: schema.TypeString, Required: true},
				{Name: "headers", Type: schema.TypeObject},
				{Name: "body", Type: schema.TypeAny},
			},
			Outputs: []PropertyDescriptor{{Name: "response", Type: schema.TypeObject}},
			Construct: func(c *ConstructContext) (engine.Activity, error) {
				var cfg struct {
					ExpectedStatusCodes []int        `json:"expected_status_codes"`
					Timeout             string       `json:"timeout"`
					Retry               *RetryPolicy `json:"retry"`
					MaxResponseBody     int64        `json:"max_response_body"`
				}
				if err := c.Config(&cfg); err != nil {
					return nil, err
				}
				a := &SendHTTPRequest{Node: c.Node(), ExpectedStatusCodes: cfg.ExpectedStatusCodes, Retry: cfg.Retry, MaxResponseBody: cfg.MaxResponseBody}
				if cfg.Timeout != "" {
					d, err := time.ParseDuration(cfg.Timeout)
					if err != nil {
						return nil, c.Errorf("invalid timeout %q", cfg.Timeout)
					}
					a.Timeout = d
				}
				var err error
				if a.Method, err = InputOf[string](c, "method"); err != nil {
					return nil, err
				}
				if a.URL, err = InputOf[string](c, "url"); err != nil {
					return nil, err
				}
				if a.Headers, err = InputOf[map[string]string](c, "headers"); err != nil {
					return nil, err
				}
				if a.Body, err = InputOf[any](c, "body"); err != nil {
					return nil, err
				}
				return a, nil
			},
		},
		{
			Type: TypeSequence, Category: categoryControlFlow,
			Description: "Run children one after another.",
			Construct: func(c *ConstructContext) (engine.Activity, error) {
				kids, err := c.Children()
				if err != nil {
					return nil, err
				}
				return &Sequence{Node: c.Node(), Activities: kids}, nil
			},
		},
		{
			Type: TypeIf, Category: categoryControlFlow,
			Description: "Run the \"then\" or \"else\" slot depending on a condition.",
			Inputs:      []PropertyDescriptor{{Name: "condition", Type: schema.TypeBoolean, Required: true}},
			Outcomes:    []string{OutcomeTrue, OutcomeFalse},
			Construct: func(c *ConstructContext) (engine.Activity, error) {
				cond, err := InputOf[bool](c, "condition")
				if err != nil {
					return nil, err
				}
				then, err := c.Slot("then")
				if err != nil {
					return nil, err
				}
				els, err := c.Slot("else")
				if err != nil {
					return nil, err
				}
				return &If{Node: c.Node(), Condition: cond, Then: then, Else: els}, nil
			},
		},
		{
			Type: TypeFork, Category: categoryControlFlow,
			Description: "Run children concurrently within the instance. Config: {\"mode\": \"WaitAll\"|\"WaitAny\"}.",
			Construct: func(c *ConstructContext) (engine.Activity, error) {
				var cfg struct {
					Mode JoinMode `json:"mode"`
				}
				if err := c.Config(&cfg); err != nil {
					return nil, err
				}
				kids, err := c.Children()
				if err != nil {
					return nil, err
				}
				return &Fork{Node: c.Node(), Mode: cfg.Mode, Branches: kids}, nil
			},
		},
		{
			Type: TypeForEach, Category: categoryControlFlow,
			Description: "Run the \"body\" slot once per item. Config: {\"variable\": current item variable}.",
			Inputs:      []PropertyDescriptor{{Name: "items", Type: schema.TypeArray, Required: true}},
			Outputs:     []PropertyDescriptor{{Name: "index", Type: schema.TypeInteger}},
			Construct: func(c *ConstructContext) (engine.Activity, error) {
				var cfg struct {
					Variable string `json:"variable"`
				}
				if err := c.Config(&cfg); err != nil {
					return nil, err
				}
				items, err := InputOf[[]any](c, "items")
				if err != nil {
					return nil, err
				}
				body, err := c.Slot("body")
				if err != nil {
					return nil, err
				}
				return &ForEach{Node: c.Node(), Items: items, Variable: cfg.Variable, Body: body}, nil
			},
		},
		{
			Type: TypeTryCatch, DisplayName: "Try/Catch", Category: categoryControlFlow,
			Description: "Contain faults raised in the \"try\" slot and run the \"catch\" slot. Config: {\"fault_variable\"}.",
			Outcomes:    []string{engine.OutcomeDone, OutcomeCaught},
			Construct: func(c *ConstructContext) (engine.Activity, error) {
				var cfg struct {
					FaultVariable string `json:"fault_variable"`
				}
				if err := c.Config(&cfg); err != nil {
					return nil, err
				}
				try, err := c.Slot("try")
				if err != nil {
					return nil, err
				}
				catch, err := c.Slot("catch")
				if err != nil {
					return nil, err
				}
				return &TryCatch{Node: c.Node(), Try: try, Catch: catch, FaultVariable: cfg.FaultVariable}, nil
			},
		},
		{
			Type: TypeFlowchart, Category: categoryComposition,
			Description: "Run children as a graph connected by outcome-labelled connections.",
			Construct:   constructFlowchart,
		},
		{
			Type: TypeDispatchWorkflow, DisplayName: "Dispatch Workflow", Category: categoryComposition,
			Description: "Start an instance of another definition. Config: {\"wait_for_completion\": bool}.",
			Inputs: []PropertyDescriptor{
				{Name: "definition_id", Type: schema.TypeString, Required: true},
				{Name: "input", Type: schema.TypeObject},
			},
			Outputs: []PropertyDescriptor{
				{Name: "instance_id", Type: schema.TypeString},
				{Name: "result", Type: schema.TypeObject},
			},
			Construct: func(c *ConstructContext) (engine.Activity, error) {
				var cfg struct {
					WaitForCompletion bool `json:"wait_for_completion"`
				}
				if err := c.Config(&cfg); err != nil {
					return nil, err
				}
				defID, err := InputOf[string](c, "definition_id")
				if err != nil {
					return nil, err
				}
				input, err := InputOf[map[string]any](c, "input")
				if err != nil {
					return nil, err
				}
				return &DispatchWorkflow{Node: c.Node(), DefinitionID: defID, Input: input, WaitForCompletion: cfg.WaitForCompletion}, nil
			},
		},
		{
			Type: TypeFlowDecision, DisplayName: "Decision", Category: categoryFlow,
			Description: "Complete with \"True\" or \"False\".",
			Inputs:      []PropertyDescriptor{{Name: "condition", Type: schema.TypeBoolean, Required: true}},
			Outcomes:    []string{OutcomeTrue, OutcomeFalse},
			Construct: func(c *ConstructContext) (engine.Activity, error) {
				cond, err := InputOf[bool](c, "condition")
				if err != nil {
					return nil, err
				}
				return &FlowDecision{Node: c.Node(), Condition: cond}, nil
			},
		},
		{
			Type: TypeFlowSwitch, DisplayName: "Switch", Category: categoryFlow,
			Description: "Complete with the label of the matching case. Config: {\"cases\": [{\"label\", \"condition\"}], \"match_all\"}.",
			Construct: func(c *ConstructContext) (engine.Activity, error) {
				var cfg struct {
					Cases []struct {
						Label     string                   `json:"label"`
						Condition schema.BindingDefinition `json:"condition"`
					} `json:"cases"`
					MatchAll bool `json:"match_all"`
				}
				if err := c.Config(&cfg); err != nil {
					return nil, err
				}
				a := &FlowSwitch{Node: c.Node(), MatchAll: cfg.MatchAll}
				for _, cs := range cfg.Cases {
					b, err := binding.FromDefinition(cs.Condition)
					if err != nil {
						return nil, c.Errorf("case %q: %s", cs.Label, err.Error())
					}
					a.Cases = append(a.Cases, SwitchCase{Label: cs.Label, Condition: binding.In[bool](b)})
				}
				return a, nil
			},
		},
		{
			Type: TypeEvent, Category: categoryTriggers,
			Description: "Wait for a named event, or start the workflow when it arrives.",
			Inputs:      []PropertyDescriptor{{Name: "event_name", Type: schema.TypeString, Required: true}},
			Outputs:     []PropertyDescriptor{{Name: "input", Type: schema.TypeObject}},
			Trigger:     true,
			Construct: func(c *ConstructContext) (engine.Activity, error) {
				name, err := InputOf[string](c, "event_name")
				if err != nil {
					return nil, err
				}
				return &Event{Node: c.Node(), EventName: name}, nil
			},
		},
		{
			Type: TypeCron, Category: categoryTriggers,
			Description: "Wait for, or start on, a cron schedule. Config: {\"expression\": cron expression}.",
			Trigger:     true,
			Construct: func(c *ConstructContext) (engine.Activity, error) {
				var cfg struct {
					Expression string `json:"expression"`
				}
				if err := c.Config(&cfg); err != nil {
					return nil, err
				}
				return &Cron{Node: c.Node(), Expression: cfg.Expression}, nil
			},
		},
	}
}

func constructFlowchart(c *ConstructContext) (engine.Activity, error) {
	kids, err := c.Children()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]engine.Activity, len(kids))
	for _, k := range kids {
		if id := k.Meta().ID; id != "" {
			byID[id] = k
		}
	}
	lookup := func(id string) (engine.Activity, error) {
		a, ok := byID[id]
		if !ok {
			return nil, c.Errorf("flowchart references unknown activity %q", id)
		}
		return a, nil
	}

	f := &Flowchart{Node: c.Node(), Activities: kids}
	for _, conn := range c.Def.Connections {
		src, err := lookup(conn.Source)
		if err != nil {
			return nil, err
		}
		dst, err := lookup(conn.Target)
		if err != nil {
			return nil, err
		}
		f.Connections = append(f.Connections, Connection{Source: src, Outcome: conn.Outcome, Target: dst})
	}
	if c.Def.Start != "" {
		if f.Start, err = lookup(c.Def.Start); err != nil {
			return nil, err
		}
	}
	return f, nil
}

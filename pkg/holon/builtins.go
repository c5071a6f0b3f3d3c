package holon

// registerBuiltinActions installs the self-management actions every agent
// carries. Purposes are AI-facing text; signatures are declared explicitly
// because the registry has no way to introspect the closures.
func (a *Agent) registerBuiltinActions() {
	a.actions.Add(NewAction("knowledge_set", "Set a value in knowledge at a dot.path", Signature{
		Params: []Param{
			{Name: "path", Type: "string"},
			{Name: "value", Type: "any"},
		},
	}, func(params map[string]any) (any, error) {
		path, err := StringParam(params, "path")
		if err != nil {
			return nil, err
		}
		return nil, a.KnowledgeSet(path, params["value"])
	}))

	a.actions.Add(NewAction("knowledge_delete", "Delete a value from knowledge at a dot.path", Signature{
		Params: []Param{
			{Name: "path", Type: "string"},
		},
	}, func(params map[string]any) (any, error) {
		path, err := StringParam(params, "path")
		if err != nil {
			return nil, err
		}
		return nil, a.KnowledgeDelete(path)
	}))

	a.actions.Add(NewAction("child_purpose_set", "Set purpose on a child holon by GUID", Signature{
		Params: []Param{
			{Name: "child_id", Type: "string"},
			{Name: "path", Type: "string"},
			{Name: "value", Type: "any"},
		},
	}, func(params map[string]any) (any, error) {
		childID, err := StringParam(params, "child_id")
		if err != nil {
			return nil, err
		}
		path, err := StringParam(params, "path")
		if err != nil {
			return nil, err
		}
		return nil, a.ChildPurposeSet(childID, path, params["value"])
	}))

	a.actions.Add(NewAction("child_purpose_clear", "Clear all purpose from a child holon", Signature{
		Params: []Param{
			{Name: "child_id", Type: "string"},
		},
	}, func(params map[string]any) (any, error) {
		childID, err := StringParam(params, "child_id")
		if err != nil {
			return nil, err
		}
		return nil, a.ChildPurposeClear(childID)
	}))

	a.actions.Add(NewAction("create_child", "Create a new child holon, optionally copying from a template GUID", Signature{
		Params: []Param{
			{Name: "template_id", Type: "string", HasDefault: true},
		},
		ReturnType: "string",
	}, func(params map[string]any) (any, error) {
		var child *Agent
		var err error
		if templateID, ok := params["template_id"].(string); ok && templateID != "" {
			child, err = a.CreateChildFrom(templateID)
		} else {
			child, err = a.CreateChild()
		}
		if err != nil {
			return nil, err
		}
		return child.ID(), nil
	}))

	a.actions.Add(NewAction("send_message", "Send a message to one or more holons by GUID", Signature{
		Params: []Param{
			{Name: "recipient_ids", Type: "array"},
			{Name: "content", Type: "any"},
			{Name: "tokens", Type: "integer", Default: 0, HasDefault: true},
		},
		ReturnType: "string",
	}, func(params map[string]any) (any, error) {
		recipients, err := StringListParam(params, "recipient_ids")
		if err != nil {
			return nil, err
		}
		tokens, err := IntParam(params, "tokens")
		if err != nil {
			return nil, err
		}
		msg, err := a.SendMessage(recipients, params["content"], tokens)
		if err != nil {
			return nil, err
		}
		return msg.ID, nil
	}))

	a.actions.Add(NewAction("sleep", "Delay next heartbeat by specified seconds from its current scheduled time", Signature{
		Params: []Param{
			{Name: "seconds", Type: "integer"},
		},
	}, func(params map[string]any) (any, error) {
		seconds, err := IntParam(params, "seconds")
		if err != nil {
			return nil, err
		}
		return nil, a.DelayHeartbeat(seconds)
	}))
}

package automation

// Predicates classify nodes by tag only. They never look at inputs.

// IsTrigger reports whether n is a trigger.
func IsTrigger(n Node) bool { return n.NodeType() == StepTypeTrigger }

// IsActionStep reports whether n is an action as opposed to a logic step or
// a trigger.
func IsActionStep(n Node) bool { return n.NodeType() == StepTypeAction }

// IsLogicStep reports whether n is a logic step such as a filter or loop.
func IsLogicStep(n Node) bool { return n.NodeType() == StepTypeLogic }

func IsBranchStep(n Node) bool  { return !IsTrigger(n) && n.Kind() == StepBranch }
func IsFilterStep(n Node) bool  { return !IsTrigger(n) && n.Kind() == StepFilter }
func IsLoopStep(n Node) bool    { return !IsTrigger(n) && n.Kind() == StepLoop }
func IsDelayStep(n Node) bool   { return !IsTrigger(n) && n.Kind() == StepDelay }
func IsCollectStep(n Node) bool { return !IsTrigger(n) && n.Kind() == StepCollect }

func IsAppTrigger(n Node) bool       { return IsTrigger(n) && n.Kind() == TriggerApp }
func IsCronTrigger(n Node) bool      { return IsTrigger(n) && n.Kind() == TriggerCron }
func IsRowActionTrigger(n Node) bool { return IsTrigger(n) && n.Kind() == TriggerRowAction }
func IsRowDeleteTrigger(n Node) bool { return IsTrigger(n) && n.Kind() == TriggerRowDeleted }
func IsRowSaveTrigger(n Node) bool   { return IsTrigger(n) && n.Kind() == TriggerRowSaved }
func IsRowUpdateTrigger(n Node) bool { return IsTrigger(n) && n.Kind() == TriggerRowUpdated }
func IsWebhookTrigger(n Node) bool   { return IsTrigger(n) && n.Kind() == TriggerWebhook }

// IsKind returns the predicate for a single kind. Together with the trigger
// predicates above, exactly one IsKind predicate holds for any known node.
func IsKind(id StepID) func(Node) bool {
	return func(n Node) bool { return n.Kind() == id && n.NodeType() != "" }
}

package entitlements

// CanPerform is the single check presentation code makes before rendering a
// control or allowing an action. Plan and member are always passed in by the
// caller; nothing is read from shared state.
func CanPerform(c Capability, plan PlanTier, m Member) bool {
	return Evaluate(plan, m).Has(c)
}

// CanSeeBilling reports whether the billing section is visible.
func CanSeeBilling(plan PlanTier, m Member) bool { return CanPerform(ViewBilling, plan, m) }

// CanSeeDeveloper reports whether the developer section is visible.
func CanSeeDeveloper(plan PlanTier, m Member) bool { return CanPerform(ViewDeveloper, plan, m) }

// CanCreateProject reports whether the member may create projects.
func CanCreateProject(plan PlanTier, m Member) bool { return CanPerform(CreateProject, plan, m) }

// CanDeleteProject reports whether the member may delete projects.
func CanDeleteProject(plan PlanTier, m Member) bool { return CanPerform(DeleteProject, plan, m) }

// CanManageBilling reports whether the member may change billing settings.
func CanManageBilling(plan PlanTier, m Member) bool { return CanPerform(ManageBilling, plan, m) }

// CanManageDeveloper reports whether the member may change developer settings.
func CanManageDeveloper(plan PlanTier, m Member) bool { return CanPerform(ManageDeveloper, plan, m) }

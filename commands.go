package rubble

// Commands is the handle systems use to stage structural changes. All
// mutations are deferred and applied by App.FlushCommands at the next stage
// boundary, so a running phase never invalidates another system's view.
type Commands struct {
	app *App
}

func (cmd *Commands) AddResources(resources ...any) *Commands {
	cmd.app.addResources(resources...)
	return cmd
}

func (cmd *Commands) AddEntity(components ...any) EntityId {
	eid := cmd.app.ecs.allocId()
	cmd.app.pendingAdds = append(cmd.app.pendingAdds, pendingAdd{
		eid:        eid,
		components: components,
	})
	return eid
}

func (cmd *Commands) AddComponents(entityId EntityId, components ...any) {
	cmd.app.pendingCompAdds = append(cmd.app.pendingCompAdds, pendingCompAdd{
		eid:        entityId,
		components: components,
	})
}

func (cmd *Commands) RemoveComponents(entityId EntityId, components ...any) {
	cmd.app.pendingCompRemovals = append(cmd.app.pendingCompRemovals, pendingCompRemoval{
		eid:        entityId,
		components: components,
	})
}

func (cmd *Commands) RemoveEntity(entityId EntityId) {
	cmd.app.pendingRemovals = append(cmd.app.pendingRemovals, entityId)
}

func (cmd *Commands) HasEntity(entityId EntityId) bool {
	return cmd.app.ecs.has(entityId)
}

func (cmd *Commands) GetAllComponents(entityId EntityId) []any {
	loc, ok := cmd.app.ecs.locs[entityId]
	if !ok {
		return nil
	}
	var res []any
	for _, col := range loc.tbl.cols {
		res = append(res, col.get(loc.row).Interface())
	}
	return res
}

// GetComponent returns a pointer to entity's component of type T, or nil.
func GetComponent[T any](cmd *Commands, eid EntityId) *T {
	ecs := cmd.app.ecs
	loc, ok := ecs.locs[eid]
	if !ok {
		return nil
	}
	col, ok := loc.tbl.cols[componentIdFor[T](ecs)]
	if !ok {
		return nil
	}
	comps := col.typed().([]T)
	return &comps[loc.row]
}

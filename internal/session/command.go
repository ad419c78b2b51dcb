package session

// Command 表示一次乐观更新：先改本地状态，随后发出持久化请求，
// 请求失败时回滚到更新前的快照。
type Command struct {
	// Apply mutates local state optimistically.
	Apply func() error
	// Request performs the durable server call(s). May be nil for edits
	// that stay local until save.
	Request func() error
	// Rollback restores the pre-apply snapshot. Only invoked when Request
	// fails.
	Rollback func()
}

// Runner executes commands with optimistic-update semantics. Rollback must
// restore the exact pre-operation snapshot; read-your-writes is a local
// illusion until the request resolves.
type Runner struct{}

// Run applies the command, fires its request, and rolls back on failure.
func (Runner) Run(cmd Command) error {
	if cmd.Apply != nil {
		if err := cmd.Apply(); err != nil {
			return err
		}
	}
	if cmd.Request != nil {
		if err := cmd.Request(); err != nil {
			if cmd.Rollback != nil {
				cmd.Rollback()
			}
			return err
		}
	}
	return nil
}

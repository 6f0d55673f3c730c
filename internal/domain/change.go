package domain

type ChangeAction string

const (
	ActionCreate ChangeAction = "create"
	ActionUpdate ChangeAction = "update"
	ActionDelete ChangeAction = "delete"
)

// EntryChange describes a change applied to the local store. Entry is nil
// for deletions.
type EntryChange struct {
	Action  ChangeAction
	EntryID int64
	Entry   *Entry
}

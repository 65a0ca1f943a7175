package model

// ActorKind это тип аутентифицированного участника.
type ActorKind string

const (
	ActorUser    ActorKind = "user"
	ActorPartner ActorKind = "partner"
	ActorAdmin   ActorKind = "admin"
)

// Valid сообщает, известен ли тип участника.
func (k ActorKind) Valid() bool {
	return k == ActorUser || k == ActorPartner || k == ActorAdmin
}

// Actor это участник, от имени которого выполняется операция.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id"`
}

package domain

// Классификации групп, допустимые в заявке на создание.
var Classifications = []string{"blue", "limitedPurple", "administrative"}

// Group: запись группы в удаленном каталоге.
type Group struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName,omitempty"`
	Owner       string   `json:"owner,omitempty"`
	Type        string   `json:"type,omitempty"`
	Members     []string `json:"members"`
}

// MemberCount: текущий размер группы, используется контролем допуска.
func (g *Group) MemberCount() int {
	if g == nil {
		return 0
	}
	return len(g.Members)
}

package conversation

import "github.com/matheus3301/dmsync/internal/model"

func indexOf(list []model.Message, id int64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// upsert inserts m in timestamp order or refreshes the entry with the same id.
// Messages with equal timestamps keep arrival order.
func upsert(list []model.Message, m model.Message) ([]model.Message, Outcome) {
	i := indexOf(list, m.ID)
	if i < 0 {
		return insertOrdered(list, m), Inserted
	}

	cur := list[i]
	next := cur
	next.IsRead = m.IsRead
	if !m.Timestamp.IsZero() {
		next.Timestamp = m.Timestamp
	}
	if next.IsRead == cur.IsRead && next.Timestamp.Equal(cur.Timestamp) {
		return list, Unchanged
	}
	if next.Timestamp.Equal(cur.Timestamp) {
		list[i] = next
		return list, Refreshed
	}
	list = append(list[:i], list[i+1:]...)
	return insertOrdered(list, next), Refreshed
}

func insertOrdered(list []model.Message, m model.Message) []model.Message {
	j := len(list)
	for j > 0 && list[j-1].Timestamp.After(m.Timestamp) {
		j--
	}
	list = append(list, model.Message{})
	copy(list[j+1:], list[j:])
	list[j] = m
	return list
}

func edit(list []model.Message, id int64, text string) ([]model.Message, bool) {
	i := indexOf(list, id)
	if i < 0 || list[i].Text == text {
		return list, false
	}
	list[i].Text = text
	return list, true
}

func remove(list []model.Message, id int64) ([]model.Message, bool) {
	i := indexOf(list, id)
	if i < 0 {
		return list, false
	}
	return append(list[:i], list[i+1:]...), true
}

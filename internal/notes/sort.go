package notes

import "sort"

func sortByUpvotesThenRecency(views []NoteView) {
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Upvotes != views[j].Upvotes {
			return views[i].Upvotes > views[j].Upvotes
		}
		if !views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].CreatedAt.After(views[j].CreatedAt)
		}
		return views[i].ID > views[j].ID
	})
}

package domain

// Post is a single timeline entry fetched from a source. Reshared and Quoted
// carry the nested original post when the entry re-posts or quotes another
// author's content; both are nil for a plain post.
type Post struct {
	// ID is the platform-assigned post id. IDs increase over time per
	// source, which is what makes since-id cursors work.
	ID int64

	// Author is the screen name of the account that produced this entry.
	Author string

	// Text is the post body.
	Text string

	// URLs are the expanded outbound links carried by this post itself,
	// not including links inside Reshared or Quoted.
	URLs []string

	Reshared *Post
	Quoted   *Post
}

// SubStatus is a nested post recorded alongside a context entry: the original
// post behind a reshare or quote.
type SubStatus struct {
	ID   int64  `json:"id"`
	User string `json:"user"`
	Text string `json:"text"`
}

// Source identifies one polled timeline. A source with an empty Slug is a
// user timeline; otherwise it is the list Slug owned by User.
type Source struct {
	// ID is the stable watermark key for this source.
	ID string

	User string
	Slug string
}

package user

const (
	// KnownUsersKey 是一个Set，用于快速判断一个用户ID是否已经登记过。
	// Member: 用户ID
	KnownUsersKey = "uvbunny:known_users"
)

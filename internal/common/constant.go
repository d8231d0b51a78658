package common

// TokenHashSuffix is appended to a token before hashing it into the
// credential store's token history. The history keeps hashes only, never
// the token itself.
const TokenHashSuffix = "-chatkeeper-token-hash"

// TokenHistoryLimit bounds the token-hash history; the oldest entries are
// evicted first.
const TokenHistoryLimit = 10

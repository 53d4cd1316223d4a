// Package secret generates and verifies route credentials.
//
// Route tokens are random Base64 RawURL strings. Route passwords may be
// kept in configuration as argon2id PHC strings:
//
//	$argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
//
// with salt and hash in unpadded standard Base64. All comparisons run in
// constant time.
package secret

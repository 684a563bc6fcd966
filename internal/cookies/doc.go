// Package cookies imports browser cookie stores into a cookiestore.Store.
// It reads Firefox (moz_cookies SQLite), Chrome (cookies SQLite,
// unencrypted values only) and Netscape text cookie files.
//
// Cookie values are never logged or formatted into errors.
package cookies

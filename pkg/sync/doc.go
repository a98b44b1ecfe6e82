/*
The sync package implements boxsync's reconciliation algorithm. It compares
the files in a local directory with the files in the user's remote container,
and decides which files need to be moved in which direction.

Reconciliation happens in two phases so that large trees don't require
hashing every file on every round:
1) Presence -- The local tree is scanned and the remote container is listed.
   Neither listing contains hashes or modification times. Files that only
   exist on one side are copied to the other side.
2) Metadata -- Files that exist on both sides have their hashes and
   modification times fetched. Files with matching hashes are left alone.
   Otherwise, the most recently modified copy wins after adjusting the local
   modification time by the client-server clock offset.

Files whose metadata couldn't be fetched are returned as pending, and are
reconsidered in the next round.

The sync algorithm only deals with files. Empty directories, empty files, and
hidden files (names starting with `.` or `~`) aren't synced. Deletions aren't
propagated.
*/
package sync

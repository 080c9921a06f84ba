// Package bump holds the bump data model and the pure pieces around it:
// the time-unit normalizer, the remaining-time formatter and the command
// grammar. Nothing here touches storage, clocks or the network.
package bump

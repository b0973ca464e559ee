// Copyright (c) 2020-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package progresslog provides periodic logging for blocks connected to a coin
view.

## Feature Overview

- Maintains cumulative totals about blocks between each logging interval
  - Total number of blocks
  - Total number of transactions
  - Total number of outputs spent
  - Total number of outputs created
- Logs all cumulative data every 10 seconds along with the cache hit ratio
- Immediately logs any outstanding data when forced by the caller
*/
package progresslog

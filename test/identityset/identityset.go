// Copyright (c) 2024 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package identityset

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/iotexproject/go-pkgs/crypto"
	"go.uber.org/zap"

	"github.com/dlp-protocol/dlp-core/pkg/log"
)

var keyPortfolio = []string{
	"bace9b2435db45b119e1570b4ea9c57993b2311e0c408d743d87cd22838ae892",
	"f964b7ccc40ccace513d3159fa9c30514c4a186ebfdd7c63d69cd79a29b804b0",
	"b437800aab0715903d36f85ea963eb2a0b6e386e7f9345a24354422a3b455757",
	"414efa99dfac6f4095d6954713fb0085268d400d6a05a8ae8a69b5b1c10b4bed",
	"d1acb5110e20becd3f1e2575e5c67f7befac58cd925767601a5f26223dddd1c8",
	"3aa779c846a62a62217f7481b9c3265f1b7fbc8e3217b7dd192d75a65da8a162",
	"c9b58691ee786b92980ab1d273254acaa0b31ab49e39e24b809dd6c36a2c165a",
	"9a3296d4237fd5bd2aacc68c09eea1f6b2c225fff46098597889fec8bd703ac1",
	"5af7498f89772c20917ca0f95671e538d360979447fd1098ec7941f2ded7b563",
	"370d2da29479db621aef14259738d38e59470a46cc3d30962f253851d67fe564",
	"6f221f32adb566b3a04fa0e76a2764eaa1278f890f7321399152695e2b0a5c43",
	"9254d943485d0fb859ff63c5581acc44f00fc2110343ac0445b99dfe39a6f1a5",
	"99d8664a9ddc19d73dff6a6f053f9124dd2ed830a04c3d7f9d1b4ffff57b843d",
	"73c7b4a62bf165dccf8ebdea8278db811efd5b8638e2ed9683d2d94889450426",
	"a4ed7333b1112fee1bdb7b7badb3e86dfeb7e7bebeabb13f96f5c95fdff17b31",
	"499d21e1d2c8a0af8a5462592bcf756d176465071230bd924d2a6286842f5dff",
}

// Size returns the number of test identities
func Size() int {
	return len(keyPortfolio)
}

// PrivateKey returns the i-th identity's private key
func PrivateKey(i int) crypto.PrivateKey {
	sk, err := crypto.HexStringToPrivateKey(keyPortfolio[i])
	if err != nil {
		log.L().Panic(
			"Error when decoding private key string",
			zap.String("keyStr", keyPortfolio[i]),
			zap.Error(err),
		)
	}
	return sk
}

// Address returns the i-th identity's address
func Address(i int) common.Address {
	return common.BytesToAddress(PrivateKey(i).PublicKey().Hash())
}

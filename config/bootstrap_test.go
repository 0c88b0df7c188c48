package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadBootstrap(t *testing.T) {
	path := writeFile(t, "seed.yaml", `prices:
  - currency: 2
    base: 1
    price: "2000000000000000000000"
    decimals: 18
deposits:
  - account: "0x3000000000000000000000000000000000000002"
    amount: 1_000000000000000000
projects:
  - owner: "0x2000000000000000000000000000000000000001"
    cycle:
      weight: "1000000000000000000"
      duration: 604800
    metadata:
      reservedRate: 2000
      redemptionRate: 10000
      holdFees: true
    constraints:
      - distributionLimit: "0x0de0b6b3a7640000"
        distributionLimitCurrency: 1
    splits:
      - splits:
          - percent: 1000000000
            beneficiary: "0x3000000000000000000000000000000000000005"
`)
	boot, err := LoadBootstrap(path)
	require.NoError(t, err)
	require.Len(t, boot.Prices, 1)
	require.Equal(t, "2000000000000000000000", boot.Prices[0].Price.String())
	require.Equal(t, "1000000000000000000", boot.Deposits[0].Amount.String())
	require.Len(t, boot.Projects, 1)
	project := boot.Projects[0]
	require.Equal(t, uint64(604_800), project.Cycle.Duration)
	require.Equal(t, "1000000000000000000", project.Cycle.Weight.Value().String())
	require.Equal(t, uint64(2_000), project.Metadata.ReservedRate)
	require.True(t, project.Metadata.HoldFees)
	require.Equal(t, "1000000000000000000", project.Constraints[0].DistributionLimit.String())
	require.Nil(t, project.Constraints[0].OverflowAllowance.Value())
	require.Equal(t, uint64(1_000_000_000), project.Splits[0].Splits[0].Percent)
}

func TestLoadBootstrapRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"negative amount": "deposits:\n  - account: \"0x3000000000000000000000000000000000000002\"\n    amount: \"-1\"\n",
		"bad owner":       "projects:\n  - owner: \"bob\"\n",
		"zero price":      "prices:\n  - currency: 2\n    base: 1\n    price: \"0\"\n",
		"same currency":   "prices:\n  - currency: 1\n    base: 1\n    price: \"5\"\n",
		"unknown field":   "projects:\n  - owner: \"0x2000000000000000000000000000000000000001\"\n    colour: blue\n",
		"missing deposit": "deposits:\n  - account: \"0x3000000000000000000000000000000000000002\"\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadBootstrap(writeFile(t, "seed.yaml", contents))
			require.Error(t, err)
		})
	}
}

package marketdata

// Shared field selection for markets, reached directly or through vaults.
const marketFieldsFragment = `
fragment MarketFields on Market {
  uniqueKey
  lltv
  irmAddress
  oracle {
    address
    type
    data {
      baseFeedOne { address }
      quoteFeedOne { address }
    }
  }
  loanAsset { address symbol decimals }
  collateralAsset { address symbol decimals }
  state {
    supplyAssetsUsd
    borrowAssetsUsd
    collateralAssetsUsd
    liquidityAssetsUsd
    utilization
    supplyApy
    borrowApy
    badDebt { usd }
  }
}`

const marketByKeyQuery = `
query MarketByKey($key: String!, $chainId: Int!) {
  marketByUniqueKey(uniqueKey: $key, chainId: $chainId) {
    ...MarketFields
  }
}` + marketFieldsFragment

const marketsQuery = `
query Markets($first: Int!, $chainId: Int!) {
  markets(first: $first, where: { chainId_in: [$chainId] }) {
    items {
      ...MarketFields
    }
  }
}` + marketFieldsFragment

const vaultByAddressQuery = `
query VaultByAddress($address: String!, $chainId: Int!) {
  vaultByAddress(address: $address, chainId: $chainId) {
    address
    name
    state {
      totalAssetsUsd
      allocation {
        supplyAssetsUsd
        supplyAssets
        market {
          ...MarketFields
        }
      }
    }
  }
}` + marketFieldsFragment

const vaultV2ByAddressQuery = `
query VaultV2ByAddress($address: String!, $chainId: Int!) {
  vaultV2ByAddress(address: $address, chainId: $chainId) {
    address
    name
    totalAssetsUsd
    adapters {
      address
      type
      allocationUsd
      vault {
        address
        name
        state {
          totalAssetsUsd
          allocation {
            supplyAssetsUsd
            supplyAssets
            market {
              ...MarketFields
            }
          }
        }
      }
      positions {
        supplyAssetsUsd
        supplyAssets
        market {
          ...MarketFields
        }
      }
    }
  }
}` + marketFieldsFragment

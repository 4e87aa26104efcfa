package gateway

// pullRequestQuery pages through a repository's pull requests newest-first.
// Page size stays at 30: the nested review, thread and file connections make
// larger pages exceed the API's node limit.
const pullRequestQuery = `
query($owner:String!, $name:String!, $cursor:String) {
  repository(owner:$owner, name:$name) {
    pullRequests(
      first: 30,
      after: $cursor,
      orderBy: {field: CREATED_AT, direction: DESC},
      states: [OPEN, CLOSED, MERGED]
    ) {
      pageInfo { hasNextPage endCursor }
      nodes {
        number title url state isDraft
        createdAt closedAt mergedAt
        author { login }
        baseRefName headRefName
        additions deletions changedFiles
        labels(first:50){ nodes { name } }
        comments { totalCount }
        reviewThreads(first:100) {
          totalCount
          nodes {
            isResolved
            isOutdated
            resolvedBy { login }
            comments(first:50) {
              totalCount
              nodes {
                author { login }
                body
                createdAt
                isMinimized
              }
            }
          }
        }
        reviewRequests(first:10){ nodes { requestedReviewer { __typename ... on User { login } ... on Team { name } } } }
        reviews(first:50){ nodes { state author { login } createdAt } }
        reviewDecision
        mergeable
        mergeStateStatus
        commits(last:1){
          nodes{
            commit{
              statusCheckRollup{ state }
              committedDate
            }
          }
        }
        files(first:100){ nodes { path additions deletions } }
        projectItems(first:10){ nodes { project { title } } }
      }
    }
  }
}
`
